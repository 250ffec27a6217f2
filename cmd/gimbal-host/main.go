// Command gimbal-host talks to the gimbal controller and inspects the files
// it reads and writes.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gimbal/enclog"
	"gimbal/host/logplot"
	"gimbal/host/serial"
	"gimbal/host/session"
	"gimbal/storage"
	"gimbal/traj"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "ports":
		err = runPorts(args)
	case "monitor":
		err = runMonitor(args)
	case "inspect":
		err = runInspect(args)
	case "decode":
		err = runDecode(args)
	case "plot":
		err = runPlot(args)
	case "encode":
		err = runEncode(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: gimbal-host <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ports                          list serial devices")
	fmt.Println("  monitor [-device D] [-live] [-config F]  telemetry console")
	fmt.Println("  inspect <file.traj>            header and first samples")
	fmt.Println("  decode [-cpr N | -config F] <NNNN.bin>  encoder log as text")
	fmt.Println("  plot -o out.png <log> [traj]   chart encoder log against trajectories")
	fmt.Println("  encode [-period us] [-scale N] <in.csv> <out.traj>")
}

func runPorts(args []string) error {
	fs := flag.NewFlagSet("ports", flag.ExitOnError)
	all := fs.Bool("all", false, "list every port, not only USB CDC devices")
	fs.Parse(args)

	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if !*all {
		ports = serial.FilterControllers(ports)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func runMonitor(args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	device := fs.String("device", "", "serial device (default: first USB CDC port)")
	baud := fs.Int("baud", 0, "baud rate (default: telemetry.serial_baud from -config, else 115200; ignored for USB CDC)")
	live := fs.Bool("live", false, "stream encoder and commanded angles")
	cfgPath := fs.String("config", "", "copy of the card's commands.json")
	fs.Parse(args)

	board, err := loadBoardConfig(*cfgPath)
	if err != nil {
		return err
	}

	if *device == "" {
		ports, err := serial.ListPorts()
		if err != nil {
			return err
		}
		ports = serial.FilterControllers(ports)
		if len(ports) == 0 {
			return errors.New("no controller found, pass -device")
		}
		*device = ports[0]
	}

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = monitorBaud(*baud, board)

	fmt.Printf("Connecting to %s...\n", *device)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	s, err := session.Dial(ctx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer s.Close()
	fmt.Println("Connected. Type 'help' for commands.")

	if err := s.SetLive(*live); err != nil {
		return err
	}

	go printEvents(s)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := monitorCommand(s, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}

var errQuit = errors.New("quit")

func monitorCommand(s *session.Session, line string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	switch strings.ToLower(line) {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		fmt.Println("  estop      stop all motion")
		fmt.Println("  clear      acknowledge an estop")
		fmt.Println("  status     request state and progress")
		fmt.Println("  live on    stream ENC/CMD lines")
		fmt.Println("  live off   stop streaming")
		fmt.Println("  quit       exit")
		return nil
	case "estop":
		return s.Estop(ctx)
	case "clear":
		if err := s.ClearEstop(ctx); err != nil {
			return err
		}
		fmt.Println("Estop cleared")
		return nil
	case "status":
		return s.RequestStatus()
	case "live on":
		return s.SetLive(true)
	case "live off":
		return s.SetLive(false)
	default:
		return fmt.Errorf("unknown command %q", line)
	}
}

func printEvents(s *session.Session) {
	for ev := range s.Events() {
		ts := ev.At.Format("15:04:05.000")
		switch ev.Kind {
		case session.KindState:
			fmt.Printf("%s state    %s\n", ts, ev.State)
		case session.KindProgress:
			fmt.Printf("%s progress %6.2f%%\n", ts, ev.Progress)
		case session.KindEncoders:
			fmt.Printf("%s enc      %d %d %d\n", ts, ev.Values[0], ev.Values[1], ev.Values[2])
		case session.KindCommanded:
			fmt.Printf("%s cmd      %d %d %d\n", ts, ev.Values[0], ev.Values[1], ev.Values[2])
		default:
			fmt.Printf("%s %s\n", ts, ev.Line)
		}
	}
	if err := s.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Link lost: %v\n", err)
	}
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	axis := fs.Int("axis", 0, "component to show for 3-axis files")
	count := fs.Int("n", 10, "samples to print")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("inspect needs one trajectory file")
	}

	r, err := traj.Open(storage.OS{}, fs.Arg(0))
	if err != nil {
		return fmt.Errorf("open %s: %w", fs.Arg(0), err)
	}
	defer r.Close()

	h := r.Header()
	fmt.Printf("File:          %s\n", fs.Arg(0))
	fmt.Printf("Version:       %d\n", h.Version)
	fmt.Printf("Axes:          %d\n", h.AxisCount)
	fmt.Printf("Period:        %d us\n", h.SamplePeriodUs)
	fmt.Printf("Samples:       %d\n", h.TotalSamples)
	fmt.Printf("Angle scale:   %d per degree\n", h.AngleScale)
	fmt.Printf("Flags:         0x%x\n", h.Flags)
	fmt.Printf("Data start:    %d\n", r.DataStart())
	fmt.Printf("Duration:      %.3f s\n", float64(h.TotalSamples)*float64(h.SamplePeriodUs)/1e6)

	n := min(uint64(*count), r.Samples())
	for i := uint64(0); i < n; i++ {
		v, err := r.ReadNextScalar(*axis)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		fmt.Printf("  [%d] %d (%.6f deg)\n", i, v, r.Degrees(v))
	}
	return nil
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	cpr := fs.Float64("cpr", 0, "counts per revolution (CPR x quad); prints degrees when set")
	cfgPath := fs.String("config", "", "commands.json giving per-axis CPR, quad and units")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("decode needs one log file")
	}
	board, err := loadBoardConfig(*cfgPath)
	if err != nil {
		return err
	}
	scale, _, err := encoderScales(board, *cpr)
	if err != nil {
		return err
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	d, err := enclog.NewDecoder(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("%s: %w", fs.Arg(0), err)
	}
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	fmt.Fprintln(w, "timestamp_us,count0,count1,count2")
	for {
		s, err := d.Next()
		if err == io.EOF {
			return nil
		}
		if err == io.ErrUnexpectedEOF {
			fmt.Fprintln(os.Stderr, "warning: torn trailing record ignored")
			return nil
		}
		if err != nil {
			return err
		}
		if scale != ([3]float64{}) {
			fmt.Fprintf(w, "%d,%.4f,%.4f,%.4f\n", s.TimestampUs,
				float64(s.Counts[0])*scale[0],
				float64(s.Counts[1])*scale[1],
				float64(s.Counts[2])*scale[2])
			continue
		}
		fmt.Fprintf(w, "%d,%d,%d,%d\n", s.TimestampUs, s.Counts[0], s.Counts[1], s.Counts[2])
	}
}

func runPlot(args []string) error {
	fs := flag.NewFlagSet("plot", flag.ExitOnError)
	out := fs.String("o", "encoders.png", "output image (.png, .svg, .pdf)")
	cpr := fs.Float64("cpr", 0, "counts per revolution (CPR x quad); plots degrees when set")
	title := fs.String("title", "", "chart title")
	cfgPath := fs.String("config", "", "commands.json giving per-axis CPR, quad and units")
	fs.Parse(args)
	if fs.NArg() < 1 {
		return errors.New("plot needs a log file")
	}
	board, err := loadBoardConfig(*cfgPath)
	if err != nil {
		return err
	}
	scale, yLabel, err := encoderScales(board, *cpr)
	if err != nil {
		return err
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	samples, err := enclog.ReadAll(bufio.NewReader(f))
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", fs.Arg(0), err)
	}

	series := logplot.EncoderSeries(samples, scale)
	for i, path := range fs.Args()[1:] {
		r, err := traj.Open(storage.OS{}, path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		s, err := logplot.TrajectorySeries(r, 0, "cmd "+strconv.Itoa(i))
		r.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		series = append(series, s)
	}

	if *title == "" {
		*title = fs.Arg(0)
	}
	p, err := logplot.New(*title, yLabel, series...)
	if err != nil {
		return err
	}
	if err := logplot.Save(p, *out); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d samples)\n", *out, len(samples))
	return nil
}

// runEncode converts a CSV of angles in degrees to a trajectory file. One
// column gives a per-axis file; three columns give a legacy 3-axis file.
func runEncode(args []string) error {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	period := fs.Uint("period", 10000, "sample period in microseconds")
	scale := fs.Uint("scale", 1000000, "fixed-point units per degree")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return errors.New("encode needs <in.csv> <out.traj>")
	}

	in, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()

	cr := csv.NewReader(in)
	cr.Comment = '#'
	rows, err := cr.ReadAll()
	if err != nil {
		return fmt.Errorf("read %s: %w", fs.Arg(0), err)
	}
	if len(rows) == 0 {
		return errors.New("no samples in input")
	}
	cols := len(rows[0])
	if cols != 1 && cols != 3 {
		return fmt.Errorf("expected 1 or 3 columns, got %d", cols)
	}

	frames := make([][3]int32, 0, len(rows))
	for i, row := range rows {
		var fr [3]int32
		for c, cell := range row {
			deg, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return fmt.Errorf("row %d column %d: %w", i+1, c+1, err)
			}
			fr[c] = traj.Quantize(deg, uint32(*scale))
		}
		frames = append(frames, fr)
	}

	h := traj.Header{
		Version:        traj.Version,
		AxisCount:      uint8(cols),
		SamplePeriodUs: uint32(*period),
		TotalSamples:   uint64(len(frames)),
		AngleScale:     uint32(*scale),
		Flags:          traj.FlagPositions,
	}
	if err := h.Validate(); err != nil {
		return err
	}

	st := storage.OS{}
	tmp := fs.Arg(1) + ".tmp"
	f, err := st.Create(tmp)
	if err != nil {
		return err
	}
	w, err := traj.NewWriter(f, h)
	for _, fr := range frames {
		if err != nil {
			break
		}
		if cols == 3 {
			err = w.WriteFrame(fr)
		} else {
			err = w.WriteScalar(fr[0])
		}
	}
	if err == nil {
		err = w.Finish()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		st.Remove(tmp)
		return fmt.Errorf("write %s: %w", fs.Arg(1), err)
	}
	if err := storage.Promote(st, tmp, fs.Arg(1)); err != nil {
		return err
	}
	fmt.Printf("Wrote %s: %d samples, %d axis, %.3f s\n", fs.Arg(1), len(frames), cols,
		float64(len(frames))*float64(*period)/1e6)
	return nil
}

package enclog

import (
	"bufio"
	"errors"
	"io"
)

var ErrSchema = errors.New("enclog: unrecognised log schema")

// Decoder reads the records of a log file
type Decoder struct {
	r   *bufio.Reader
	buf [RecordSize]byte
}

// NewDecoder checks the schema line and positions at the first record
func NewDecoder(r io.Reader) (*Decoder, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return nil, ErrSchema
		}
		return nil, err
	}
	if line != SchemaLine {
		return nil, ErrSchema
	}
	return &Decoder{r: br}, nil
}

// Next returns the next record, io.EOF at the end and
// io.ErrUnexpectedEOF on a torn trailing record
func (d *Decoder) Next() (Sample, error) {
	if _, err := io.ReadFull(d.r, d.buf[:]); err != nil {
		return Sample{}, err
	}
	return ParseRecord(d.buf[:]), nil
}

// ReadAll decodes every complete record. A torn trailing record is
// ignored.
func ReadAll(r io.Reader) ([]Sample, error) {
	d, err := NewDecoder(r)
	if err != nil {
		return nil, err
	}
	var out []Sample
	for {
		s, err := d.Next()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
}

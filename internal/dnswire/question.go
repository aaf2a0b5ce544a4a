package dnswire

import (
	"encoding/binary"
	"fmt"
)

// Question is a DNS question-section entry (RFC 1035 §4.1.2).
type Question struct {
	Name  Name
	Type  uint16
	Class uint16
}

// Marshal serializes the question to wire format.
func (q Question) Marshal() ([]byte, error) {
	name, err := EncodeName(q.Name)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, len(name)+4)
	b = append(b, name...)
	tail := make([]byte, 4)
	binary.BigEndian.PutUint16(tail[0:2], q.Type)
	binary.BigEndian.PutUint16(tail[2:4], q.Class)
	return append(b, tail...), nil
}

// ParseQuestion parses a question at *off, advancing *off past it.
func ParseQuestion(msg []byte, off *int) (Question, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Question{}, err
	}
	if *off+4 > len(msg) {
		return Question{}, fmt.Errorf("%w: unexpected EOF while reading question", ErrWireError)
	}
	q := Question{
		Name:  name,
		Type:  binary.BigEndian.Uint16(msg[*off : *off+2]),
		Class: binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
	}
	*off += 4
	return q, nil
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// WriteSub writes a SUB command.
func WriteSub(w io.Writer, topic, channel string) error {
	_, err := fmt.Fprintf(w, "SUB %s %s\n", topic, channel)
	return err
}

// WritePub writes a PUB command with its size-prefixed body.
func WritePub(w io.Writer, topic string, body []byte) error {
	if _, err := fmt.Fprintf(w, "PUB %s\n", topic); err != nil {
		return err
	}
	return writeSized(w, body)
}

// WriteDpub writes a DPUB command with its size-prefixed body.
func WriteDpub(w io.Writer, topic string, delayMillis uint32, body []byte) error {
	if _, err := fmt.Fprintf(w, "DPUB %s %d\n", topic, delayMillis); err != nil {
		return err
	}
	return writeSized(w, body)
}

// WriteMpub writes an MPUB command for the given bodies.
func WriteMpub(w io.Writer, topic string, bodies [][]byte) error {
	if _, err := fmt.Fprintf(w, "MPUB %s\n", topic); err != nil {
		return err
	}
	var section bytes.Buffer
	binary.Write(&section, binary.BigEndian, uint32(len(bodies)))
	for _, b := range bodies {
		binary.Write(&section, binary.BigEndian, uint32(len(b)))
		section.Write(b)
	}
	return writeSized(w, section.Bytes())
}

// WriteRdy writes an RDY command.
func WriteRdy(w io.Writer, count int) error {
	_, err := fmt.Fprintf(w, "RDY %d\n", count)
	return err
}

// WriteFin writes a FIN command.
func WriteFin(w io.Writer, id MessageID) error {
	_, err := fmt.Fprintf(w, "FIN %s\n", id)
	return err
}

// WriteReq writes a REQ command.
func WriteReq(w io.Writer, id MessageID, timeoutMillis uint32) error {
	_, err := fmt.Fprintf(w, "REQ %s %d\n", id, timeoutMillis)
	return err
}

// WriteTouch writes a TOUCH command.
func WriteTouch(w io.Writer, id MessageID) error {
	_, err := fmt.Fprintf(w, "TOUCH %s\n", id)
	return err
}

// WriteCls writes a CLS command.
func WriteCls(w io.Writer) error {
	_, err := io.WriteString(w, "CLS\n")
	return err
}

// WriteNop writes a NOP command.
func WriteNop(w io.Writer) error {
	_, err := io.WriteString(w, "NOP\n")
	return err
}

// WriteIdentify writes an IDENTIFY command with its JSON payload.
func WriteIdentify(w io.Writer, payload []byte) error {
	if _, err := io.WriteString(w, "IDENTIFY\n"); err != nil {
		return err
	}
	return writeSized(w, payload)
}

func writeSized(w io.Writer, body []byte) error {
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], uint32(len(body)))
	if _, err := w.Write(sz[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

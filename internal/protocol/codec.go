package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"
)

// Limits constrains decode memory use.
type Limits struct {
	MaxLineBytes    int
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes:    8 * 1024,
		MaxPayloadBytes: 1024 * 1024,
	}
}

// ReadMessage reads one line and, for payload verbs whose last token is a
// length, the payload that follows it.
func ReadMessage(r *bufio.Reader, limits Limits) (InboundMessage, error) {
	line, err := readLine(r, limits.MaxLineBytes)
	if err != nil {
		return InboundMessage{}, err
	}
	msg, size, err := ParseLine(line)
	if err != nil {
		return InboundMessage{}, err
	}
	if size < 0 {
		return msg, nil
	}
	if size > limits.MaxPayloadBytes {
		return InboundMessage{}, ErrPayloadTooLarge
	}
	msg.Payload = make([]byte, size)
	if _, err := io.ReadFull(r, msg.Payload); err != nil {
		return InboundMessage{}, err
	}
	return msg, nil
}

// ParseLine splits one header line. size is the announced payload length,
// or -1 when the line carries none.
func ParseLine(line string) (InboundMessage, int, error) {
	fields := strings.Fields(strings.TrimRight(line, "\r\n"))
	if len(fields) == 0 {
		return InboundMessage{}, -1, ErrMalformed
	}
	if len(fields[0]) != 3 {
		return InboundMessage{}, -1, ErrInvalidVerb
	}
	msg := InboundMessage{Command: Verb(fields[0])}
	if len(fields) > 1 {
		msg.TID = fields[1]
	}
	if len(fields) > 2 {
		msg.Params = append([]string(nil), fields[2:]...)
	}

	size := -1
	if _, ok := payloadVerbs[msg.Command]; ok && len(fields) > 1 {
		if n, err := strconv.Atoi(fields[len(fields)-1]); err == nil && n >= 0 {
			size = n
			if len(fields) == 2 {
				msg.TID = ""
			} else {
				msg.Params = msg.Params[:len(msg.Params)-1]
			}
		}
	}
	return msg, size, nil
}

// Encode renders cmd with the given correlation id.
func Encode(tid uint32, cmd OutboundCommand) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(string(cmd.Command))
	if _, ok := noTIDVerbs[cmd.Command]; !ok {
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatUint(uint64(tid), 10))
	}
	for _, p := range cmd.Params {
		buf.WriteByte(' ')
		buf.WriteString(p)
	}
	if cmd.Payload != nil {
		buf.WriteByte(' ')
		buf.WriteString(strconv.Itoa(len(cmd.Payload)))
	}
	buf.WriteString("\r\n")
	buf.Write(cmd.Payload)
	return buf.Bytes(), nil
}

func WriteCommand(w io.Writer, tid uint32, cmd OutboundCommand) error {
	b, err := Encode(tid, cmd)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readLine(r *bufio.Reader, max int) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := r.ReadSlice('\n')
		sb.Write(chunk)
		if max > 0 && sb.Len() > max {
			return "", ErrLineTooLong
		}
		if err == nil {
			return sb.String(), nil
		}
		if err != bufio.ErrBufferFull {
			if err == io.EOF && sb.Len() > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
	}
}

package lumberjack

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the exclusive upper bound on an encoded data frame. The
// remote service refuses anything at or above it.
const MaxFrameSize = 16000

// Protocol version and frame type bytes.
const (
	VersionUnauthorized byte = '0'
	Version1            byte = '1'
	Version2            byte = '2'

	TypeIdentify    byte = 'I'
	TypeSuperTenant byte = 'S'
	TypeTenant      byte = 'T'
	TypeWindow      byte = 'W'
	TypeData        byte = 'D'
	TypeAck         byte = 'A'
)

const (
	headerLen     = 2
	dataHeaderLen = headerLen + 4 + 4
	maxShortField = 255
)

var (
	// ErrFieldTooLong is returned when a string carried behind a one-byte
	// length prefix is longer than 255 bytes.
	ErrFieldTooLong = errors.New("lumberjack: field longer than 255 bytes")

	// ErrFrameTooLarge is returned when a data frame would reach MaxFrameSize.
	ErrFrameTooLarge = errors.New("lumberjack: data frame exceeds maximum size")

	// ErrUnknownFrame is returned by ReadFrame for an unrecognised header.
	ErrUnknownFrame = errors.New("lumberjack: unknown frame")
)

// EncodeIdentification builds the "1I" frame announcing the client.
func EncodeIdentification(clientID string) ([]byte, error) {
	if len(clientID) > maxShortField {
		return nil, fmt.Errorf("client id: %w", ErrFieldTooLong)
	}
	buf := make([]byte, 0, headerLen+1+len(clientID))
	buf = append(buf, Version1, TypeIdentify, byte(len(clientID)))
	buf = append(buf, clientID...)
	return buf, nil
}

// EncodeAuthentication builds the "2S" (supertenant) or "2T" (tenant) frame.
func EncodeAuthentication(tenantID, token string, superTenant bool) ([]byte, error) {
	if len(tenantID) > maxShortField {
		return nil, fmt.Errorf("tenant id: %w", ErrFieldTooLong)
	}
	if len(token) > maxShortField {
		return nil, fmt.Errorf("token: %w", ErrFieldTooLong)
	}
	kind := TypeTenant
	if superTenant {
		kind = TypeSuperTenant
	}
	buf := make([]byte, 0, headerLen+2+len(tenantID)+len(token))
	buf = append(buf, Version2, kind, byte(len(tenantID)))
	buf = append(buf, tenantID...)
	buf = append(buf, byte(len(token)))
	buf = append(buf, token...)
	return buf, nil
}

// EncodeWindow builds a "1W" frame granting credit for n data frames.
func EncodeWindow(n uint32) []byte {
	buf := make([]byte, headerLen+4)
	buf[0], buf[1] = Version1, TypeWindow
	binary.BigEndian.PutUint32(buf[2:], n)
	return buf
}

// DataFrameSize returns the encoded size of a data frame carrying rec. The
// sequence number does not affect the size, so callers can check the limit
// before committing a sequence number.
func DataFrameSize(rec FlatRecord) int {
	n := dataHeaderLen
	for _, p := range rec {
		n += 4 + len(p.Key) + 4 + len(p.Value)
	}
	return n
}

// EncodeData builds a "1D" frame. It returns ErrFrameTooLarge when the
// frame would reach MaxFrameSize.
func EncodeData(seq uint32, rec FlatRecord) ([]byte, error) {
	size := DataFrameSize(rec)
	if size >= MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	buf := make([]byte, dataHeaderLen, size)
	buf[0], buf[1] = Version1, TypeData
	binary.BigEndian.PutUint32(buf[2:6], seq)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(rec)))
	for _, p := range rec {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Key)))
		buf = append(buf, p.Key...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Value)))
		buf = append(buf, p.Value...)
	}
	return buf, nil
}

// EncodeAck builds the "1A" acknowledgment sent by the service.
func EncodeAck(seq uint32) []byte {
	buf := make([]byte, headerLen+4)
	buf[0], buf[1] = Version1, TypeAck
	binary.BigEndian.PutUint32(buf[2:], seq)
	return buf
}

// EncodeUnauthorized builds the "0A" reply sent for rejected credentials.
func EncodeUnauthorized() []byte {
	return []byte{VersionUnauthorized, TypeAck}
}

// AckKind classifies an inbound acknowledgment.
type AckKind int

const (
	// AckUnknown is any header the client does not understand.
	AckUnknown AckKind = iota
	// AckOK carries a sequence number; zero means the handshake completed.
	AckOK
	// AckUnauthorized means the service rejected the credentials.
	AckUnauthorized
)

func (k AckKind) String() string {
	switch k {
	case AckOK:
		return "ack"
	case AckUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Ack is one decoded inbound acknowledgment.
type Ack struct {
	Kind    AckKind
	Seq     uint32
	Version byte
	Type    byte
}

// ReadAck reads the next acknowledgment from r. Unknown headers are reported
// as AckUnknown and whatever else is already buffered is discarded, since the
// stream cannot be resynchronised past a frame of unknown length.
func ReadAck(r *bufio.Reader) (Ack, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Ack{}, err
	}
	ack := Ack{Version: hdr[0], Type: hdr[1]}
	if hdr[1] != TypeAck {
		_, _ = r.Discard(r.Buffered())
		return ack, nil
	}
	switch hdr[0] {
	case VersionUnauthorized:
		ack.Kind = AckUnauthorized
	case Version1:
		var seq [4]byte
		if _, err := io.ReadFull(r, seq[:]); err != nil {
			return Ack{}, err
		}
		ack.Kind = AckOK
		ack.Seq = binary.BigEndian.Uint32(seq[:])
	default:
		_, _ = r.Discard(r.Buffered())
	}
	return ack, nil
}

// Frame is one decoded client-to-service frame. Only the fields relevant to
// Type are populated.
type Frame struct {
	Version byte
	Type    byte

	ClientID    string
	TenantID    string
	Token       string
	SuperTenant bool

	Credit uint32

	Seq   uint32
	Pairs FlatRecord
}

// ReadFrame decodes the next client frame from r. Data frames larger than
// MaxFrameSize are rejected with ErrFrameTooLarge before their payload is
// buffered.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	f := Frame{Version: hdr[0], Type: hdr[1]}

	switch {
	case f.Version == Version1 && f.Type == TypeIdentify:
		id, err := readShort(r)
		if err != nil {
			return f, fmt.Errorf("identification: %w", err)
		}
		f.ClientID = id

	case f.Version == Version2 && (f.Type == TypeTenant || f.Type == TypeSuperTenant):
		tenant, err := readShort(r)
		if err != nil {
			return f, fmt.Errorf("authentication tenant: %w", err)
		}
		token, err := readShort(r)
		if err != nil {
			return f, fmt.Errorf("authentication token: %w", err)
		}
		f.TenantID, f.Token, f.SuperTenant = tenant, token, f.Type == TypeSuperTenant

	case f.Version == Version1 && f.Type == TypeWindow:
		n, err := readUint32(r)
		if err != nil {
			return f, fmt.Errorf("window: %w", err)
		}
		f.Credit = n

	case f.Version == Version1 && f.Type == TypeData:
		if err := readData(r, &f); err != nil {
			return f, fmt.Errorf("data: %w", err)
		}

	default:
		return f, fmt.Errorf("%w: %q", ErrUnknownFrame, hdr[:])
	}
	return f, nil
}

func readData(r *bufio.Reader, f *Frame) error {
	seq, err := readUint32(r)
	if err != nil {
		return err
	}
	count, err := readUint32(r)
	if err != nil {
		return err
	}
	f.Seq = seq

	size := dataHeaderLen
	pairs := make(FlatRecord, 0, min(int(count), 64))
	for i := uint32(0); i < count; i++ {
		key, n, err := readLong(r, MaxFrameSize-size)
		if err != nil {
			return err
		}
		size += n
		val, n, err := readLong(r, MaxFrameSize-size)
		if err != nil {
			return err
		}
		size += n
		pairs = append(pairs, Pair{Key: key, Value: val})
	}
	f.Pairs = pairs
	return nil
}

func readShort(r *bufio.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readLong reads a u32-prefixed string, refusing lengths beyond budget.
// It returns the number of bytes consumed including the prefix.
func readLong(r *bufio.Reader, budget int) (string, int, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", 0, err
	}
	if int64(n)+4 > int64(budget) {
		return "", 0, ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", 0, err
	}
	return string(buf), 4 + int(n), nil
}

func readUint32(r *bufio.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

package lumberjack

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeIdentification(t *testing.T) {
	got, err := EncodeIdentification("client_v1")
	require.NoError(t, err)
	assert.Equal(t, append([]byte{'1', 'I', 9}, "client_v1"...), got)

	_, err = EncodeIdentification(strings.Repeat("x", 256))
	assert.ErrorIs(t, err, ErrFieldTooLong)
}

func TestEncodeAuthentication(t *testing.T) {
	tenant, err := EncodeAuthentication("space-1", "tok", false)
	require.NoError(t, err)
	want := []byte{'2', 'T', 7}
	want = append(want, "space-1"...)
	want = append(want, 3)
	want = append(want, "tok"...)
	assert.Equal(t, want, tenant)

	super, err := EncodeAuthentication("st", "tok", true)
	require.NoError(t, err)
	assert.Equal(t, byte('S'), super[1])

	_, err = EncodeAuthentication("t", strings.Repeat("k", 300), false)
	assert.ErrorIs(t, err, ErrFieldTooLong)
}

func TestEncodeWindow(t *testing.T) {
	assert.Equal(t, []byte{'1', 'W', 0, 0, 0, 1}, EncodeWindow(1))
}

func TestEncodeData_Layout(t *testing.T) {
	rec := FlatRecord{{Key: "a", Value: "xy"}, {Key: "bc", Value: ""}}

	got, err := EncodeData(7, rec)
	require.NoError(t, err)

	assert.Equal(t, DataFrameSize(rec), len(got))
	assert.Equal(t, []byte("1D"), got[:2])
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(got[2:6]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(got[6:10]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(got[10:14]))
	assert.Equal(t, byte('a'), got[14])
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(got[15:19]))
	assert.Equal(t, "xy", string(got[19:21]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(got[21:25]))
	assert.Equal(t, "bc", string(got[25:27]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(got[27:31]))
}

func TestEncodeData_SizeLimit(t *testing.T) {
	// header(10) + key len(4) + "k"(1) + value len(4) = 19 bytes of overhead.
	atLimit := FlatRecord{{Key: "k", Value: strings.Repeat("v", MaxFrameSize-19)}}
	require.Equal(t, MaxFrameSize, DataFrameSize(atLimit))
	_, err := EncodeData(1, atLimit)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	below := FlatRecord{{Key: "k", Value: strings.Repeat("v", MaxFrameSize-20)}}
	_, err = EncodeData(1, below)
	assert.NoError(t, err)
}

func TestReadAck(t *testing.T) {
	stream := bytes.NewBuffer(nil)
	stream.Write(EncodeAck(0))
	stream.Write(EncodeAck(5))
	stream.Write(EncodeUnauthorized())
	r := bufio.NewReader(stream)

	ack, err := ReadAck(r)
	require.NoError(t, err)
	assert.Equal(t, Ack{Kind: AckOK, Seq: 0, Version: '1', Type: 'A'}, ack)

	ack, err = ReadAck(r)
	require.NoError(t, err)
	assert.Equal(t, AckOK, ack.Kind)
	assert.Equal(t, uint32(5), ack.Seq)

	ack, err = ReadAck(r)
	require.NoError(t, err)
	assert.Equal(t, AckUnauthorized, ack.Kind)

	_, err = ReadAck(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadAck_UnknownDiscardsBuffered(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("1Zgarbage")))

	ack, err := ReadAck(r)
	require.NoError(t, err)
	assert.Equal(t, AckUnknown, ack.Kind)
	assert.Equal(t, byte('Z'), ack.Type)
	assert.Zero(t, r.Buffered())

	r = bufio.NewReader(bytes.NewReader([]byte("9A\x00\x00")))
	ack, err = ReadAck(r)
	require.NoError(t, err)
	assert.Equal(t, AckUnknown, ack.Kind)
}

func TestReadAck_TruncatedSequence(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte{'1', 'A', 0, 0}))
	_, err := ReadAck(r)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrame_ClientSession(t *testing.T) {
	var stream bytes.Buffer
	id, _ := EncodeIdentification("client")
	auth, _ := EncodeAuthentication("tenant", "secret", true)
	data, _ := EncodeData(3, FlatRecord{{Key: "type", Value: "audit"}, {Key: "item", Value: "1"}})
	stream.Write(id)
	stream.Write(auth)
	stream.Write(EncodeWindow(1))
	stream.Write(data)
	r := bufio.NewReader(&stream)

	f, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, TypeIdentify, f.Type)
	assert.Equal(t, "client", f.ClientID)

	f, err = ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "tenant", f.TenantID)
	assert.Equal(t, "secret", f.Token)
	assert.True(t, f.SuperTenant)

	f, err = ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, TypeWindow, f.Type)
	assert.Equal(t, uint32(1), f.Credit)

	f, err = ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, TypeData, f.Type)
	assert.Equal(t, uint32(3), f.Seq)
	assert.Equal(t, map[string]string{"type": "audit", "item": "1"}, f.Pairs.Map())
}

func TestReadFrame_Rejects(t *testing.T) {
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader([]byte("3X"))))
	assert.ErrorIs(t, err, ErrUnknownFrame)

	// A data frame announcing a value far beyond the frame limit.
	hostile := []byte{'1', 'D', 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 'k', 0xff, 0xff, 0xff, 0xff}
	_, err = ReadFrame(bufio.NewReader(bytes.NewReader(hostile)))
	assert.True(t, errors.Is(err, ErrFrameTooLarge), "got %v", err)
}

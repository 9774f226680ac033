package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PacketType — тип пакета Socket.IO (протокол v5).
type PacketType byte

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
	PacketBinaryEvent
	PacketBinaryAck
)

// Типы пакетов Engine.IO v4 (первый символ текстового фрейма).
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineUpgrade = '5'
	engineNoop    = '6'
)

var (
	ErrEmptyPacket       = errors.New("socketio: empty packet")
	ErrBinaryUnsupported = errors.New("socketio: binary packets are not supported")
)

// Packet — декодированный пакет Socket.IO. Namespace "" соответствует "/".
type Packet struct {
	Type      PacketType
	Namespace string
	ID        int
	HasID     bool
	Data      json.RawMessage
}

// NewEvent собирает пакет EVENT: ["event", payload]. ackID < 0 означает без запроса подтверждения.
func NewEvent(event string, ackID int, payload any) (Packet, error) {
	items := []any{event}
	if payload != nil {
		items = append(items, payload)
	}
	data, err := json.Marshal(items)
	if err != nil {
		return Packet{}, fmt.Errorf("socketio: marshal event %q: %w", event, err)
	}
	p := Packet{Type: PacketEvent, Data: data}
	if ackID >= 0 {
		p.ID, p.HasID = ackID, true
	}
	return p, nil
}

// Encode возвращает текстовое представление пакета (без префикса Engine.IO).
func (p Packet) Encode() string {
	var b strings.Builder
	b.WriteByte('0' + byte(p.Type))
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.HasID {
		b.WriteString(strconv.Itoa(p.ID))
	}
	b.Write(p.Data)
	return b.String()
}

// DecodePacket разбирает текстовый пакет Socket.IO.
func DecodePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, ErrEmptyPacket
	}
	t := s[0]
	if t < '0' || t > '6' {
		return Packet{}, fmt.Errorf("socketio: unknown packet type %q", t)
	}
	p := Packet{Type: PacketType(t - '0')}
	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		return Packet{}, ErrBinaryUnsupported
	}

	i := 1
	if i < len(s) && s[i] == '/' {
		j := strings.IndexByte(s[i:], ',')
		if j < 0 {
			p.Namespace = s[i:]
			i = len(s)
		} else {
			p.Namespace = s[i : i+j]
			i += j + 1
		}
	}

	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > start {
		id, err := strconv.Atoi(s[start:i])
		if err != nil {
			return Packet{}, fmt.Errorf("socketio: bad ack id: %w", err)
		}
		p.ID, p.HasID = id, true
	}

	if data := s[i:]; data != "" {
		if !json.Valid([]byte(data)) {
			return Packet{}, fmt.Errorf("socketio: invalid json payload in %q packet", t)
		}
		p.Data = json.RawMessage(data)
	}
	return p, nil
}

// Args разбирает payload пакета как JSON-массив.
func (p Packet) Args() ([]json.RawMessage, error) {
	if len(p.Data) == 0 {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(p.Data, &args); err != nil {
		return nil, fmt.Errorf("socketio: payload is not an array: %w", err)
	}
	return args, nil
}

// Event возвращает имя события и его аргументы.
func (p Packet) Event() (string, []json.RawMessage, error) {
	args, err := p.Args()
	if err != nil {
		return "", nil, err
	}
	if len(args) == 0 {
		return "", nil, errors.New("socketio: event without name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("socketio: event name: %w", err)
	}
	return name, args[1:], nil
}

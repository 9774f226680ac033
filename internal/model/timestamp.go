package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Timestamp — время из недоверенного источника. Valid=false означает, что значение отсутствовало
// или не разобралось; ошибкой это не считается.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

// At возвращает валидную метку для t.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t, Valid: !t.IsZero()}
}

// Or возвращает время метки либо def, если метка невалидна.
func (t Timestamp) Or(def time.Time) time.Time {
	if t.Valid {
		return t.Time
	}
	return def
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
}

// TimestampOf приводит произвольное значение к метке времени: time.Time, epoch в миллисекундах,
// строку или непустой массив строк (берётся первый элемент).
func TimestampOf(v any) Timestamp {
	switch x := v.(type) {
	case nil:
		return Timestamp{}
	case Timestamp:
		return x
	case time.Time:
		return At(x)
	case *time.Time:
		if x == nil {
			return Timestamp{}
		}
		return At(*x)
	case string:
		return parseTimestampString(x)
	case []string:
		if len(x) == 0 {
			return Timestamp{}
		}
		return parseTimestampString(x[0])
	case []any:
		if len(x) == 0 {
			return Timestamp{}
		}
		if s, ok := x[0].(string); ok {
			return parseTimestampString(s)
		}
		return Timestamp{}
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Timestamp{}
		}
		return epochMillis(f)
	case float64:
		return epochMillis(x)
	case float32:
		return epochMillis(float64(x))
	case int:
		return epochMillis(float64(x))
	case int32:
		return epochMillis(float64(x))
	case int64:
		return epochMillis(float64(x))
	case uint:
		return epochMillis(float64(x))
	case uint32:
		return epochMillis(float64(x))
	case uint64:
		return epochMillis(float64(x))
	default:
		return Timestamp{}
	}
}

// ParseTimestamp разбирает сырое JSON-значение. Никогда не возвращает ошибку.
func ParseTimestamp(raw []byte) Timestamp {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Timestamp{}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Timestamp{}
	}
	return TimestampOf(v)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	*t = ParseTimestamp(b)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func parseTimestampString(s string) Timestamp {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return At(t)
		}
	}
	// date-only ISO строки трактуются как UTC
	if t, err := time.ParseInLocation("2006-01-02", s, time.UTC); err == nil {
		return At(t)
	}
	return Timestamp{}
}

// maxEpochMillis: граница допустимого диапазона дат (±8.64e15 мс от эпохи).
const maxEpochMillis = 8.64e15

func epochMillis(ms float64) Timestamp {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > maxEpochMillis {
		return Timestamp{}
	}
	whole := int64(ms)
	return Timestamp{Time: time.UnixMilli(whole).UTC(), Valid: true}
}

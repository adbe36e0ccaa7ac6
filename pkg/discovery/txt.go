package discovery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/backkem/msglayer/pkg/session"
)

// TXT record keys.
const (
	TXTKeyIdleInterval    = "SII"
	TXTKeyActiveInterval  = "SAI"
	TXTKeyActiveThreshold = "SAT"
	TXTKeyTCPSupported    = "T"
)

// TXT is the decoded record a node publishes with its service.
type TXT struct {
	// Params is the advertised retry timing. Unset fields are omitted
	// from the record.
	Params session.Params

	// TCPSupported reports whether the node also listens on TCP.
	TCPSupported bool
}

// Encode renders the record as "key=value" strings in a stable order.
// Durations are whole milliseconds.
func (t TXT) Encode() []string {
	var txt []string
	if t.Params.IdleInterval > 0 {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyIdleInterval, t.Params.IdleInterval.Milliseconds()))
	}
	if t.Params.ActiveInterval > 0 {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyActiveInterval, t.Params.ActiveInterval.Milliseconds()))
	}
	if t.Params.ActiveThreshold > 0 {
		txt = append(txt, fmt.Sprintf("%s=%d", TXTKeyActiveThreshold, t.Params.ActiveThreshold.Milliseconds()))
	}
	if t.TCPSupported {
		txt = append(txt, TXTKeyTCPSupported+"=1")
	}
	return txt
}

// Validate checks the timing against session limits.
func (t TXT) Validate() error {
	if err := t.Params.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTXTRecord, err)
	}
	return nil
}

// ParseTXT splits "key=value" strings into a map. Keys without "=" map to
// the empty string. Later duplicates win.
func ParseTXT(records []string) map[string]string {
	m := make(map[string]string, len(records))
	for _, r := range records {
		if k, v, ok := strings.Cut(r, "="); ok {
			m[k] = v
		} else if r != "" {
			m[r] = ""
		}
	}
	return m
}

// DecodeTXT builds a TXT from parsed key/values. Unknown keys are ignored.
func DecodeTXT(m map[string]string) (TXT, error) {
	var t TXT
	var err error
	if t.Params.IdleInterval, err = parseMillis(m, TXTKeyIdleInterval); err != nil {
		return TXT{}, err
	}
	if t.Params.ActiveInterval, err = parseMillis(m, TXTKeyActiveInterval); err != nil {
		return TXT{}, err
	}
	if t.Params.ActiveThreshold, err = parseMillis(m, TXTKeyActiveThreshold); err != nil {
		return TXT{}, err
	}
	if v, ok := m[TXTKeyTCPSupported]; ok {
		switch v {
		case "0":
		case "1":
			t.TCPSupported = true
		default:
			return TXT{}, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyTCPSupported, v)
		}
	}
	if err := t.Validate(); err != nil {
		return TXT{}, err
	}
	return t, nil
}

func parseMillis(m map[string]string, key string) (time.Duration, error) {
	v, ok := m[key]
	if !ok {
		return 0, nil
	}
	ms, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

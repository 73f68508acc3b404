package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Operator is the imprint of the single human principal bound to this
// workspace (operator.json).
type Operator struct {
	Name        string    `json:"name"`
	XMTPHandle  string    `json:"xmtp_handle,omitempty"`
	ImprintedAt time.Time `json:"imprinted_at"`
}

// LoadOperator reads the imprint; a missing file returns (nil, nil),
// which sends boot into onboarding.
func LoadOperator(path string) (*Operator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read operator imprint: %w", err)
	}
	var op Operator
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("parse operator imprint: %w", err)
	}
	return &op, nil
}

func (o Operator) Save(path string) error {
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("encode operator imprint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write operator imprint: %w", err)
	}
	return nil
}

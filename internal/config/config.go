package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return errors.New("invalid duration")
	}
}

type Configuration struct {
	ReportDir         string     `json:"reportDir" validate:"required"`
	DatabasePath      string     `json:"databasePath" validate:"required"`
	RDNSCacheFile     string     `json:"rdnsCacheFile" validate:"required"`
	DNSServer         string     `json:"dnsServer" validate:"omitempty,hostname_port"`
	DNSConnectTimeout Duration   `json:"dnsConnectTimeout"`
	DNSTimeout        Duration   `json:"dnsTimeout"`
	ImapConfig        IMAPConfig `json:"imap"`
}

type IMAPConfig struct {
	Host       string   `json:"host" validate:"omitempty,hostname_port"`
	SSL        bool     `json:"ssl"`
	User       string   `json:"user"`
	Pass       string   `json:"pass"`
	Folder     string   `json:"folder"`
	IgnoreCert bool     `json:"ignoreCert"`
	UnreadOnly bool     `json:"unreadOnly"`
	Timeout    Duration `json:"timeout"`
}

func GetConfig(defaults Configuration, f string) (*Configuration, error) {
	if f == "" {
		return nil, fmt.Errorf("please provide a valid config file")
	}

	b, err := os.ReadFile(f) // nolint: gosec
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(b, &defaults); err != nil {
		return nil, err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(defaults); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &defaults, nil
}

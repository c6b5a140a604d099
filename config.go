package dbqueue

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/coregx/dbqueue/model"
)

// Recognized option keys, in both the DSN query string and the options map.
const (
	OptionTableName        = "table_name"
	OptionQueueName        = "queue_name"
	OptionRedeliverTimeout = "redeliver_timeout"
	OptionAutoSetup        = "auto_setup"
)

// Defaults applied when an option is absent.
const (
	DefaultQueueName        = "default"
	DefaultRedeliverTimeout = 3600 * time.Second
	DefaultAutoSetup        = true
)

var recognizedOptions = map[string]struct{}{
	OptionTableName:        {},
	OptionQueueName:        {},
	OptionRedeliverTimeout: {},
	OptionAutoSetup:        {},
}

// tableNamePattern accepts a plain SQL identifier. Table names are
// interpolated into SQL and quoted as a single identifier by the store.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Configuration is the resolved transport configuration.
type Configuration struct {
	// Connection is the host part of the DSN: the name of the database
	// connection the transport should use.
	Connection string

	// TableName is the physical table holding the messages.
	TableName string

	// QueueName partitions the table into logical queues.
	QueueName string

	// RedeliverTimeout is how long a claimed message stays invisible before
	// another consumer may claim it again.
	RedeliverTimeout time.Duration

	// AutoSetup creates the table on first use when it is missing.
	AutoSetup bool
}

// DefaultConfiguration returns a configuration with every default applied.
func DefaultConfiguration() Configuration {
	return Configuration{
		Connection:       "default",
		TableName:        model.DefaultTableName,
		QueueName:        DefaultQueueName,
		RedeliverTimeout: DefaultRedeliverTimeout,
		AutoSetup:        DefaultAutoSetup,
	}
}

// Validate checks the configuration values.
func (c Configuration) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TableName, validation.Required, validation.Length(1, 64),
			validation.Match(tableNamePattern).Error("must be a valid SQL identifier")),
		validation.Field(&c.QueueName, validation.Required, validation.Length(1, 190)),
		validation.Field(&c.RedeliverTimeout, validation.Required, validation.Min(time.Second)),
	)
}

// ParseDSN resolves a connection string and explicit options into a validated
// Configuration.
//
// The DSN has the form:
//
//	scheme://connection[:port][/path]?table_name=...&queue_name=...&redeliver_timeout=...&auto_setup=...
//
// Values from options take precedence over the query string. Any key that is
// not one of table_name, queue_name, redeliver_timeout or auto_setup, in
// either source, is a configuration error so typos never pass silently.
func ParseDSN(dsn string, options map[string]interface{}) (Configuration, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return Configuration{}, NewErrorWithCause(ErrCodeConfiguration, fmt.Sprintf("malformed connection string %q", dsn), err)
	}
	if u.Scheme == "" || (u.Host == "" && u.Opaque != "") {
		return Configuration{}, NewError(ErrCodeConfiguration, fmt.Sprintf("malformed connection string %q", dsn))
	}

	query := u.Query()
	var unknown []string
	for key := range query {
		if _, ok := recognizedOptions[key]; !ok {
			unknown = append(unknown, "query:"+key)
		}
	}
	for key := range options {
		if _, ok := recognizedOptions[key]; !ok {
			unknown = append(unknown, "option:"+key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Configuration{}, NewError(ErrCodeConfiguration, fmt.Sprintf(
			"unknown option(s) %s; recognized options are %s, %s, %s, %s",
			strings.Join(unknown, ", "),
			OptionTableName, OptionQueueName, OptionRedeliverTimeout, OptionAutoSetup))
	}

	cfg := DefaultConfiguration()
	if host := u.Hostname(); host != "" {
		cfg.Connection = host
	}

	merged := make(map[string]interface{}, len(query)+len(options))
	for key := range query {
		merged[key] = query.Get(key)
	}
	for key, value := range options {
		merged[key] = value
	}

	if err := cfg.apply(merged); err != nil {
		return Configuration{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Configuration{}, NewErrorWithCause(ErrCodeConfiguration, "invalid transport configuration", err)
	}
	return cfg, nil
}

func (c *Configuration) apply(values map[string]interface{}) error {
	for key, raw := range values {
		var err error
		switch key {
		case OptionTableName:
			c.TableName, err = toString(raw)
		case OptionQueueName:
			c.QueueName, err = toString(raw)
		case OptionRedeliverTimeout:
			c.RedeliverTimeout, err = toSeconds(raw)
		case OptionAutoSetup:
			c.AutoSetup, err = toBool(raw)
		}
		if err != nil {
			return NewErrorWithCause(ErrCodeConfiguration, fmt.Sprintf("invalid value for option %q", key), err)
		}
	}
	return nil
}

func toString(v interface{}) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return "", fmt.Errorf("expected a string, got %T", v)
	}
}

// toSeconds accepts integer seconds (as a number or a string) or a time.Duration.
func toSeconds(v interface{}) (time.Duration, error) {
	switch n := v.(type) {
	case time.Duration:
		return n, nil
	case int:
		return time.Duration(n) * time.Second, nil
	case int64:
		return time.Duration(n) * time.Second, nil
	case uint:
		return time.Duration(n) * time.Second, nil
	case float64:
		return time.Duration(n * float64(time.Second)), nil
	case string:
		secs, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected integer seconds, got %q", n)
		}
		return time.Duration(secs) * time.Second, nil
	default:
		return 0, fmt.Errorf("expected integer seconds, got %T", v)
	}
}

func toBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int:
		return b != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "1", "true", "yes", "on":
			return true, nil
		case "0", "false", "no", "off", "":
			return false, nil
		}
		return false, fmt.Errorf("expected a boolean, got %q", b)
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}

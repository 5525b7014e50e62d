package config

import (
	"errors"
	"fmt"

	"workforce-queue/pkg/retry"
)

func (c *Config) Validate() error {
	if err := c.RabbitMQ.Validate(); err != nil {
		return err
	}
	if err := c.Queue.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers cannot be empty when events are enabled")
		}
		if c.Kafka.Topic == "" {
			return errors.New("kafka events topic cannot be empty")
		}
	}
	return nil
}

func (c *RabbitMQConfig) Validate() error {
	if c.URI == "" && c.Host == "" {
		return errors.New("rabbitmq host cannot be empty")
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("rabbitmq reconnect delay must be greater than zero")
	}
	return nil
}

func (c *QueueConfig) Validate() error {
	switch c.RetryPolicy {
	case retry.PolicyImmediate, retry.PolicyLinear, retry.PolicyExponential:
	default:
		return fmt.Errorf("unknown retry policy %q", c.RetryPolicy)
	}
	if c.MaxRetries < 0 {
		return errors.New("maxRetries cannot be negative")
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return errors.New("retry delays cannot be negative")
	}
	return nil
}

func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case StoreDriverPostgres, StoreDriverSQLite:
		if c.DSN == "" {
			return fmt.Errorf("store dsn is required for driver %q", c.Driver)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Driver)
	}
	return nil
}

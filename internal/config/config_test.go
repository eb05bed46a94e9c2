package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	c := Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "billing"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret", AdminSecret: "hunter2"},
		ESL:   ESLConfig{Host: "127.0.0.1", Port: 8021, Password: "ClueCon"},
	}
	c.applyDefaults()
	return c
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_AcceptsCompleteLocalConfig(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	c := validConfig()
	if c.DB.SSLMode != "disable" {
		t.Fatalf("sslmode = %q", c.DB.SSLMode)
	}
	if c.Billing.ReservationTTL != 45*time.Minute {
		t.Fatalf("reservation ttl = %v", c.Billing.ReservationTTL)
	}
	if c.Billing.SweepInterval != time.Minute {
		t.Fatalf("sweep interval = %v", c.Billing.SweepInterval)
	}
	if c.Billing.DefaultMaxConcurrent != 5 {
		t.Fatalf("max concurrent = %d", c.Billing.DefaultMaxConcurrent)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("access ttl = %v", c.Auth.AccessTokenTTL)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.DB.SSLMode = ""
	c.Auth.JWTIssuer = "billingd"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_ESLRequired(t *testing.T) {
	c := validConfig()
	c.ESL.Password = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing ESL_PASSWORD")
	}

	c = validConfig()
	c.ESL.Port = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing ESL_PORT")
	}
}

func TestValidate_BackoffOrdering(t *testing.T) {
	c := validConfig()
	c.ESL.BackoffMin = 10 * time.Second
	c.ESL.BackoffMax = time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for inverted backoff bounds")
	}
}

func TestValidate_CollaboratorURL(t *testing.T) {
	c := validConfig()
	c.Collaborator.BaseURL = "ftp://nope"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for non-http collaborator URL")
	}
	c.Collaborator.BaseURL = "http://backend:8000/api"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected http URL accepted, got %v", err)
	}
}

func TestAddrHelpers(t *testing.T) {
	c := validConfig()
	if c.HTTPAddr() != ":8080" {
		t.Fatalf("http addr = %s", c.HTTPAddr())
	}
	if c.ESLAddr() != "127.0.0.1:8021" {
		t.Fatalf("esl addr = %s", c.ESLAddr())
	}
	if c.RedisAddr() != "localhost:6379" {
		t.Fatalf("redis addr = %s", c.RedisAddr())
	}
}

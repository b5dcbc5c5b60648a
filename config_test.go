package main

import (
	"reflect"
	"testing"
	"time"
)

func TestParseScoringTable(t *testing.T) {
	table, err := parseScoringTable("10,8,6,5,1,3,1")
	if err != nil {
		t.Fatalf("default table failed to parse: %v", err)
	}
	if !reflect.DeepEqual(table, []int{10, 8, 6, 5, 1, 3, 1}) {
		t.Fatalf("parsed table wrong: %v", table)
	}

	if _, err := parseScoringTable(""); err == nil {
		t.Fatalf("empty table must be rejected")
	}
	if _, err := parseScoringTable("10,x,3"); err == nil {
		t.Fatalf("non-numeric entry must be rejected")
	}
	if _, err := parseScoringTable("10,-3"); err == nil {
		t.Fatalf("negative entry must be rejected")
	}

	if _, err := parseScoringTable(" 5 , 3 , 1 "); err != nil {
		t.Fatalf("whitespace should be tolerated: %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			port:      8080,
			levels:    5,
			levelTime: 30 * time.Second,
			scoring:   "10,8,6,5,1,3,1",
		}
	}

	if err := base().validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := base()
	cfg.port = 0
	if err := cfg.validate(); err == nil {
		t.Fatalf("port 0 must be rejected")
	}

	cfg = base()
	cfg.tlsCert = "cert.pem"
	if err := cfg.validate(); err == nil {
		t.Fatalf("tls cert without key must be rejected")
	}

	cfg = base()
	cfg.levels = 0
	if err := cfg.validate(); err == nil {
		t.Fatalf("zero levels must be rejected")
	}

	cfg = base()
	cfg.levelTime = 0
	if err := cfg.validate(); err == nil {
		t.Fatalf("zero level time must be rejected")
	}
}

func TestPointsForRankBounds(t *testing.T) {
	cfg := newTestConfig()

	if cfg.pointsForRank(0) != 0 || cfg.pointsForRank(-3) != 0 {
		t.Fatalf("nonsense ranks must score zero")
	}
	if cfg.pointsForRank(1) != 10 {
		t.Fatalf("rank 1 should score 10")
	}
}

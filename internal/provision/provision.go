// Package provision creates status databases and their users on the store.
package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	influx "github.com/influxdata/influxdb1-client/v2"
	"go.uber.org/zap"

	"github.com/simonepigazzini/dynamic-automation/internal/config"
)

// User describes the credentials and privileges of one database user.
type User struct {
	Password string `json:"password"`
	Rights   string `json:"rights"`
}

// LoadUsers reads a username -> {password, rights} mapping from a JSON file.
func LoadUsers(path string) (map[string]User, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users config: %w", err)
	}

	var users map[string]User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse users config: %w", err)
	}
	return users, nil
}

// store is the subset of the InfluxDB client used by the provisioner.
type store interface {
	Query(q influx.Query) (*influx.Response, error)
	Close() error
}

// Provisioner creates databases and grants user privileges.
type Provisioner struct {
	db     store
	logger *zap.Logger
}

// New opens an admin connection to the store.
func New(cfg config.Config, logger *zap.Logger) (*Provisioner, error) {
	c, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     cfg.Addr(),
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}
	return &Provisioner{db: c, logger: logger}, nil
}

// Close releases the admin connection.
func (p *Provisioner) Close() error {
	return p.db.Close()
}

// Setup creates the database and adds every configured user with its
// privileges. Users are processed in name order.
func (p *Provisioner) Setup(ctx context.Context, database string, users map[string]User) error {
	if database == "" {
		return fmt.Errorf("database name is required")
	}

	if err := p.exec(ctx, fmt.Sprintf(`CREATE DATABASE %q`, database)); err != nil {
		return fmt.Errorf("create database %s: %w", database, err)
	}

	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		u := users[name]
		rights, err := normalizeRights(u.Rights)
		if err != nil {
			return fmt.Errorf("user %s: %w", name, err)
		}

		if err := p.exec(ctx, fmt.Sprintf(`CREATE USER %q WITH PASSWORD '%s'`, name, u.Password)); err != nil {
			return fmt.Errorf("create user %s: %w", name, err)
		}
		if err := p.exec(ctx, fmt.Sprintf(`GRANT %s ON %q TO %q`, rights, database, name)); err != nil {
			return fmt.Errorf("grant %s to %s: %w", rights, name, err)
		}

		p.logger.Info("added user",
			zap.String("user", name),
			zap.String("db", database),
			zap.String("rights", rights),
		)
	}

	p.logger.Info("database created", zap.String("db", database))
	return nil
}

func (p *Provisioner) exec(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	resp, err := p.db.Query(influx.NewQuery(cmd, "", ""))
	if err != nil {
		return err
	}
	return resp.Error()
}

func normalizeRights(rights string) (string, error) {
	switch strings.ToUpper(rights) {
	case "READ":
		return "READ", nil
	case "WRITE":
		return "WRITE", nil
	case "ALL":
		return "ALL", nil
	}
	return "", fmt.Errorf("unknown rights %q, expected READ, WRITE or ALL", rights)
}

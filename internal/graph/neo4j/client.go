package neo4j

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/topoquery/backend/pkg/circuitbreaker"
	"github.com/topoquery/backend/pkg/logger"
	"github.com/topoquery/backend/pkg/retry"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.Breaker
	retryConfig retry.Config
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.New("neo4j", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         20 * time.Second,
		MaxProbes:        3,
	})

	retryConfig := retry.Config{
		Attempts: 2,
		BaseWait: 200 * time.Millisecond,
		MaxWait:  3 * time.Second,
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// Run executes a Cypher query and returns the result rows in order. Backend
// errors come back as errors; the caller decides how to classify them.
func (c *Client) Run(ctx context.Context, query string) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var rows []map[string]any

	err := c.cb.Do(func() error {
		session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
		defer session.Close(ctx)

		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return fmt.Errorf("query execution failed: %w", err)
		}

		rows = nil
		for result.Next(ctx) {
			rows = append(rows, result.Record().AsMap())
		}
		if err := result.Err(); err != nil {
			return fmt.Errorf("query execution failed: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	logger.Debug("Cypher executed", zap.Int("rows", len(rows)))
	return rows, nil
}

// Schema introspects labels, relationship types and property keys and renders
// them as a prompt-ready description.
func (c *Client) Schema(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var schema string

	err := c.cb.Do(func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)

			labels, err := collectStrings(ctx, session, "CALL db.labels() YIELD label RETURN label")
			if err != nil {
				return fmt.Errorf("failed to fetch labels: %w", err)
			}

			relTypes, err := collectStrings(ctx, session, "CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType")
			if err != nil {
				return fmt.Errorf("failed to fetch relationship types: %w", err)
			}

			props, err := collectStrings(ctx, session, "CALL db.propertyKeys() YIELD propertyKey RETURN propertyKey")
			if err != nil {
				return fmt.Errorf("failed to fetch property keys: %w", err)
			}

			sort.Strings(labels)
			sort.Strings(relTypes)
			sort.Strings(props)

			var b strings.Builder
			b.WriteString("Node labels: " + strings.Join(labels, ", ") + "\n")
			b.WriteString("Relationship types: " + strings.Join(relTypes, ", ") + "\n")
			b.WriteString("Property keys: " + strings.Join(props, ", ") + "\n")
			schema = b.String()
			return nil
		})
	})

	if err != nil {
		return "", err
	}

	return schema, nil
}

func collectStrings(ctx context.Context, session neo4j.SessionWithContext, query string) ([]string, error) {
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, err
	}

	var values []string
	for result.Next(ctx) {
		record := result.Record()
		if len(record.Values) > 0 {
			if s, ok := record.Values[0].(string); ok {
				values = append(values, s)
			}
		}
	}
	return values, result.Err()
}

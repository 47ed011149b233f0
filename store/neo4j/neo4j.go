// Package neo4j implements recall.GraphStore on a Neo4j database.
//
// The graph holds User and Fact nodes. (:User)-[:HAS_FACT]->(:Fact)
// edges record ownership; (:Fact)-[:RELATED_TO {type}]->(:Fact) edges
// record typed relations between facts. Relationship types cannot be
// parameterised in Cypher, so the semantic type lives in a `type`
// property on a single RELATED_TO relationship kind.
package neo4j

import (
	"context"
	"fmt"
	"log/slog"

	nj "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/recallio/recall"
)

// Graph implements recall.GraphStore backed by Neo4j.
type Graph struct {
	driver   nj.DriverWithContext
	database string
	logger   *slog.Logger
}

var _ recall.GraphStore = (*Graph)(nil)

// Option configures a Graph.
type Option func(*Graph)

// WithDatabase selects the target database (default: "neo4j").
func WithDatabase(name string) Option {
	return func(g *Graph) { g.database = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) { g.logger = l }
}

// New creates a Graph using an existing driver. The caller owns the
// driver and is responsible for closing it.
func New(driver nj.DriverWithContext, opts ...Option) *Graph {
	g := &Graph{driver: driver, database: "neo4j"}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	return g
}

// Init creates the uniqueness constraints on node IDs. Idempotent.
func (g *Graph) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
		`CREATE CONSTRAINT fact_id_unique IF NOT EXISTS FOR (f:Fact) REQUIRE f.id IS UNIQUE`,
	}
	for _, stmt := range stmts {
		if err := g.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("neo4j: init: %w", err)
		}
	}
	return nil
}

// EnsureUser creates the User node if it does not exist.
func (g *Graph) EnsureUser(ctx context.Context, userID string) error {
	err := g.run(ctx, `MERGE (u:User {id: $id})`, map[string]any{"id": userID})
	if err != nil {
		return fmt.Errorf("neo4j: ensure user: %w", err)
	}
	return nil
}

// UpsertFact creates or updates the Fact node and its HAS_FACT edge from
// the owning user.
func (g *Graph) UpsertFact(ctx context.Context, factID, userID, content, category string, confidence float64) error {
	err := g.run(ctx, `
		MERGE (u:User {id: $user_id})
		MERGE (f:Fact {id: $fact_id})
		SET f.content = $content, f.category = $category, f.confidence = $confidence
		MERGE (u)-[:HAS_FACT]->(f)`,
		map[string]any{
			"fact_id":    factID,
			"user_id":    userID,
			"content":    content,
			"category":   category,
			"confidence": confidence,
		})
	if err != nil {
		return fmt.Errorf("neo4j: upsert fact: %w", err)
	}
	return nil
}

// Link creates a typed relation between two facts. Re-linking the same
// pair with the same type replaces the properties.
func (g *Graph) Link(ctx context.Context, sourceID, targetID, relType string, props map[string]any) error {
	if props == nil {
		props = map[string]any{}
	}
	err := g.run(ctx, `
		MATCH (a:Fact {id: $source}), (b:Fact {id: $target})
		MERGE (a)-[r:RELATED_TO {type: $type}]->(b)
		SET r += $props`,
		map[string]any{
			"source": sourceID,
			"target": targetID,
			"type":   relType,
			"props":  props,
		})
	if err != nil {
		return fmt.Errorf("neo4j: link: %w", err)
	}
	return nil
}

// RelationsOf returns every outbound relation of a fact.
func (g *Graph) RelationsOf(ctx context.Context, factID string) ([]recall.Relation, error) {
	result, err := nj.ExecuteQuery(ctx, g.driver, `
		MATCH (f:Fact {id: $id})-[r:RELATED_TO]->(t:Fact)
		RETURN t.id AS target, r.type AS type, properties(r) AS props`,
		map[string]any{"id": factID},
		nj.EagerResultTransformer,
		nj.ExecuteQueryWithDatabase(g.database))
	if err != nil {
		return nil, fmt.Errorf("neo4j: relations of: %w", err)
	}

	relations := make([]recall.Relation, 0, len(result.Records))
	for _, rec := range result.Records {
		rel := recall.Relation{}
		if v, ok := rec.Get("target"); ok {
			rel.FactID, _ = v.(string)
		}
		if v, ok := rec.Get("type"); ok {
			rel.Type, _ = v.(string)
		}
		if v, ok := rec.Get("props"); ok {
			if props, isMap := v.(map[string]any); isMap {
				delete(props, "type")
				rel.Props = props
			}
		}
		relations = append(relations, rel)
	}
	return relations, nil
}

// DeleteFact removes the Fact node and every edge touching it.
func (g *Graph) DeleteFact(ctx context.Context, factID string) error {
	err := g.run(ctx, `MATCH (f:Fact {id: $id}) DETACH DELETE f`, map[string]any{"id": factID})
	if err != nil {
		return fmt.Errorf("neo4j: delete fact: %w", err)
	}
	return nil
}

// DeleteUser removes the User node and all of its facts.
func (g *Graph) DeleteUser(ctx context.Context, userID string) error {
	err := g.run(ctx, `
		MATCH (u:User {id: $id})
		OPTIONAL MATCH (u)-[:HAS_FACT]->(f:Fact)
		DETACH DELETE u, f`,
		map[string]any{"id": userID})
	if err != nil {
		return fmt.Errorf("neo4j: delete user: %w", err)
	}
	return nil
}

func (g *Graph) run(ctx context.Context, cypher string, params map[string]any) error {
	_, err := nj.ExecuteQuery(ctx, g.driver, cypher, params,
		nj.EagerResultTransformer,
		nj.ExecuteQueryWithDatabase(g.database))
	return err
}

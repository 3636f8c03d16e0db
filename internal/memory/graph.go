package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

const (
	// maxEdgeWeight caps Hebbian reinforcement.
	maxEdgeWeight = 10.0
	// minActivation is the floor below which a decayed concept is removed.
	minActivation = 0.01
)

// Concept is a node in the knowledge graph.
type Concept struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Category    string   `json:"category,omitempty"`
	Activation  float64  `json:"activation"`
	Connections []string `json:"connections,omitempty"`
}

// Relation is a weighted edge between two concepts.
type Relation struct {
	Source        string  `json:"source"`
	Target        string  `json:"target"`
	Relation      string  `json:"relation"`
	Weight        float64 `json:"weight"`
	CoActivations int     `json:"co_activations"`
}

// Contradiction reports a concept that carries both an "is" and an
// "is_not" edge to the same target.
type Contradiction struct {
	Concept string `json:"concept"`
	Target  string `json:"target"`
}

// Subgraph is a concept neighborhood.
type Subgraph struct {
	Nodes []Concept  `json:"nodes"`
	Edges []Relation `json:"edges"`
}

// Graph is the Hebbian knowledge graph backed by Neo4j. Concepts that are
// activated together grow stronger connections; unused concepts decay away.
type Graph struct {
	driver       neo4j.DriverWithContext
	learningRate float64
	logger       *zap.Logger
}

// NewGraph creates a knowledge graph store.
func NewGraph(uri, user, password string, learningRate float64, logger *zap.Logger) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if learningRate <= 0 {
		learningRate = 0.1
	}
	return &Graph{driver: driver, learningRate: learningRate, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (g *Graph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// AddConcept upserts a concept node and resets its activation.
func (g *Graph) AddConcept(ctx context.Context, id, label, category string, properties map[string]any) error {
	props := "{}"
	if len(properties) > 0 {
		raw, err := json.Marshal(properties)
		if err != nil {
			return fmt.Errorf("marshal concept properties: %w", err)
		}
		props = string(raw)
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (c:Concept {id: $id})
		 ON CREATE SET c.created_at = datetime()
		 SET c.label = $label, c.category = $category,
		     c.properties = $props, c.activation = 1.0,
		     c.last_accessed = datetime()`,
		map[string]interface{}{
			"id":       id,
			"label":    label,
			"category": category,
			"props":    props,
		})
	if err != nil {
		return fmt.Errorf("add concept: %w", err)
	}
	return nil
}

// AddRelation upserts a directed edge between two known concepts. An
// existing edge of the same relation has its weight replaced and its
// co-activation count reset.
func (g *Graph) AddRelation(ctx context.Context, source, target, relation string, weight float64) error {
	if relation == "" {
		relation = "related_to"
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH (a:Concept {id: $source}), (b:Concept {id: $target})
		 MERGE (a)-[r:RELATES {relation: $relation}]->(b)
		 ON CREATE SET r.created_at = datetime()
		 SET r.weight = $weight, r.co_activations = 0`,
		map[string]interface{}{
			"source":   source,
			"target":   target,
			"relation": relation,
			"weight":   weight,
		})
	if err != nil {
		return fmt.Errorf("add relation: %w", err)
	}
	return nil
}

// HebbianUpdate strengthens connections between co-activated concepts. For
// every unordered pair, an existing edge gains learningRate weight (capped)
// and a co-activation; a missing edge between two known concepts is created
// as "co_activated" at learningRate weight.
func (g *Graph) HebbianUpdate(ctx context.Context, concepts []string) error {
	if len(concepts) < 2 {
		return nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for i, first := range concepts {
		for _, second := range concepts[i+1:] {
			result, err := session.Run(ctx,
				`MATCH (a:Concept {id: $a})-[r:RELATES]->(b:Concept {id: $b})
				 SET r.weight = CASE WHEN r.weight + $rate > $max
				                THEN $max ELSE r.weight + $rate END,
				     r.co_activations = coalesce(r.co_activations, 0) + 1
				 RETURN count(r) AS strengthened`,
				map[string]interface{}{
					"a": first, "b": second,
					"rate": g.learningRate, "max": maxEdgeWeight,
				})
			if err != nil {
				return fmt.Errorf("hebbian strengthen: %w", err)
			}

			strengthened := int64(0)
			if result.Next(ctx) {
				if n, ok := result.Record().Get("strengthened"); ok {
					strengthened, _ = n.(int64)
				}
			}
			if strengthened > 0 {
				continue
			}

			_, err = session.Run(ctx,
				`MATCH (a:Concept {id: $a}), (b:Concept {id: $b})
				 MERGE (a)-[r:RELATES {relation: 'co_activated'}]->(b)
				 ON CREATE SET r.weight = $rate, r.co_activations = 0,
				               r.created_at = datetime()`,
				map[string]interface{}{
					"a": first, "b": second, "rate": g.learningRate,
				})
			if err != nil {
				return fmt.Errorf("hebbian wire: %w", err)
			}
		}
	}
	return nil
}

// Search finds concepts whose label or id contains the query, strongest
// activation first, with their outgoing connections.
func (g *Graph) Search(ctx context.Context, query string, limit int) ([]Concept, error) {
	if limit <= 0 {
		limit = 10
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (c:Concept)
		 WHERE toLower(c.label) CONTAINS toLower($query)
		    OR toLower(c.id) CONTAINS toLower($query)
		 OPTIONAL MATCH (c)-[:RELATES]->(n:Concept)
		 WITH c, collect(n.id) AS connections
		 RETURN c.id AS id, c.label AS label, c.category AS category,
		        coalesce(c.activation, 1.0) AS activation, connections
		 ORDER BY activation DESC
		 LIMIT $limit`,
		map[string]interface{}{"query": query, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("search concepts: %w", err)
	}

	var concepts []Concept
	for result.Next(ctx) {
		concepts = append(concepts, conceptFromRecord(result.Record()))
	}
	return concepts, result.Err()
}

// Neighbors returns a concept and its outgoing neighborhood up to depth hops.
// An unknown concept yields an empty subgraph.
func (g *Graph) Neighbors(ctx context.Context, id string, depth int) (*Subgraph, error) {
	if depth <= 0 {
		depth = 1
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, fmt.Sprintf(
		`MATCH (c:Concept {id: $id})
		 OPTIONAL MATCH (c)-[:RELATES*1..%d]->(n:Concept)
		 WITH collect(DISTINCT c) + collect(DISTINCT n) AS raw
		 UNWIND raw AS node
		 RETURN DISTINCT node.id AS id, node.label AS label, node.category AS category,
		        coalesce(node.activation, 1.0) AS activation`, depth),
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("concept neighbors: %w", err)
	}

	sub := &Subgraph{}
	ids := []string{}
	for result.Next(ctx) {
		c := conceptFromRecord(result.Record())
		sub.Nodes = append(sub.Nodes, c)
		ids = append(ids, c.ID)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("concept neighbors: %w", err)
	}
	if len(ids) == 0 {
		return sub, nil
	}

	edges, err := session.Run(ctx,
		`MATCH (a:Concept)-[r:RELATES]->(b:Concept)
		 WHERE a.id IN $ids AND b.id IN $ids
		 RETURN a.id AS source, b.id AS target, r.relation AS relation,
		        coalesce(r.weight, 1.0) AS weight,
		        coalesce(r.co_activations, 0) AS co_activations`,
		map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("neighbor edges: %w", err)
	}
	for edges.Next(ctx) {
		rec := edges.Record()
		var rel Relation
		if v, ok := rec.Get("source"); ok {
			rel.Source, _ = v.(string)
		}
		if v, ok := rec.Get("target"); ok {
			rel.Target, _ = v.(string)
		}
		if v, ok := rec.Get("relation"); ok {
			rel.Relation, _ = v.(string)
		}
		if v, ok := rec.Get("weight"); ok {
			rel.Weight, _ = v.(float64)
		}
		if v, ok := rec.Get("co_activations"); ok {
			if n, ok := v.(int64); ok {
				rel.CoActivations = int(n)
			}
		}
		sub.Edges = append(sub.Edges, rel)
	}
	return sub, edges.Err()
}

// Decay multiplies every activation by (1-rate) and removes concepts that
// fall below the floor, along with their edges. Returns the removal count.
// This is the only path by which stale concepts disappear.
func (g *Graph) Decay(ctx context.Context, rate float64) (int, error) {
	if rate <= 0 {
		return 0, nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (c:Concept)
		 SET c.activation = coalesce(c.activation, 1.0) * (1.0 - $rate)
		 WITH c WHERE c.activation < $floor
		 DETACH DELETE c
		 RETURN count(c) AS removed`,
		map[string]interface{}{"rate": rate, "floor": minActivation})
	if err != nil {
		return 0, fmt.Errorf("decay concepts: %w", err)
	}

	removed := 0
	if result.Next(ctx) {
		if v, ok := result.Record().Get("removed"); ok {
			if n, ok := v.(int64); ok {
				removed = int(n)
			}
		}
	}
	return removed, result.Err()
}

// FindContradictions reports concepts holding both an "is" and an "is_not"
// edge to the same target.
func (g *Graph) FindContradictions(ctx context.Context) ([]Contradiction, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (n:Concept)-[:RELATES {relation: 'is'}]->(t:Concept),
		       (n)-[:RELATES {relation: 'is_not'}]->(t)
		 RETURN DISTINCT n.id AS concept, t.id AS target`, nil)
	if err != nil {
		return nil, fmt.Errorf("find contradictions: %w", err)
	}

	var found []Contradiction
	for result.Next(ctx) {
		rec := result.Record()
		var c Contradiction
		if v, ok := rec.Get("concept"); ok {
			c.Concept, _ = v.(string)
		}
		if v, ok := rec.Get("target"); ok {
			c.Target, _ = v.(string)
		}
		found = append(found, c)
	}
	return found, result.Err()
}

// RandomPair picks two distinct random concepts for idle exploration.
// Returns false when the graph holds fewer than two concepts.
func (g *Graph) RandomPair(ctx context.Context) (string, string, bool, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (c:Concept)
		 WITH c ORDER BY rand()
		 LIMIT 2
		 RETURN collect(c.id) AS ids`, nil)
	if err != nil {
		return "", "", false, fmt.Errorf("random pair: %w", err)
	}

	if result.Next(ctx) {
		if v, ok := result.Record().Get("ids"); ok {
			if ids, ok := v.([]any); ok && len(ids) == 2 {
				first, _ := ids[0].(string)
				second, _ := ids[1].(string)
				return first, second, true, nil
			}
		}
	}
	return "", "", false, result.Err()
}

// Count returns the number of concepts in the graph.
func (g *Graph) Count(ctx context.Context) (int, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `MATCH (c:Concept) RETURN count(c) AS total`, nil)
	if err != nil {
		return 0, fmt.Errorf("count concepts: %w", err)
	}
	if result.Next(ctx) {
		if v, ok := result.Record().Get("total"); ok {
			if n, ok := v.(int64); ok {
				return int(n), nil
			}
		}
	}
	return 0, result.Err()
}

func conceptFromRecord(rec *neo4j.Record) Concept {
	var c Concept
	if v, ok := rec.Get("id"); ok {
		c.ID, _ = v.(string)
	}
	if v, ok := rec.Get("label"); ok {
		c.Label, _ = v.(string)
	}
	if v, ok := rec.Get("category"); ok {
		c.Category, _ = v.(string)
	}
	if v, ok := rec.Get("activation"); ok {
		c.Activation, _ = v.(float64)
	}
	if v, ok := rec.Get("connections"); ok {
		if conns, ok := v.([]any); ok {
			for _, conn := range conns {
				if s, ok := conn.(string); ok {
					c.Connections = append(c.Connections, s)
				}
			}
		}
	}
	return c
}

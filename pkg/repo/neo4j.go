package repo

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// identifier matches labels and relationship types that are safe to inline.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Neo4jRepo is a generic Neo4j-backed repository.
type Neo4jRepo[T any, ID comparable] struct {
	driver     neo4j.DriverWithContext
	label      string
	toMap      func(T) map[string]any
	fromProps  func(map[string]any) (T, error)
	newSession func(ctx context.Context) runner // for testing
}

// NewNeo4jRepo creates a repository for nodes with the given label. Nodes
// are keyed by their "id" property, which toMap must include.
func NewNeo4jRepo[T any, ID comparable](
	driver neo4j.DriverWithContext,
	label string,
	toMap func(T) map[string]any,
	fromProps func(map[string]any) (T, error),
) *Neo4jRepo[T, ID] {
	if !identifier.MatchString(label) {
		panic(fmt.Sprintf("repo: invalid label %q", label))
	}
	return &Neo4jRepo[T, ID]{
		driver:    driver,
		label:     label,
		toMap:     toMap,
		fromProps: fromProps,
	}
}

// Compile-time interface check.
var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (r *Neo4jRepo[T, ID]) session(ctx context.Context) runner {
	if r.newSession != nil {
		return r.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})}
}

// Props returns the property map of the node bound to "n" in rec.
func Props(rec *neo4j.Record) (map[string]any, error) {
	v, ok := rec.Get("n")
	if !ok {
		return nil, fmt.Errorf("repo: record has no n")
	}
	switch n := v.(type) {
	case dbtype.Node:
		return n.Props, nil
	case map[string]any:
		return n, nil
	}
	return nil, fmt.Errorf("repo: unexpected node type %T", v)
}

func (r *Neo4jRepo[T, ID]) decode(rec *neo4j.Record) (T, error) {
	var zero T
	props, err := Props(rec)
	if err != nil {
		return zero, err
	}
	return r.fromProps(props)
}

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {id: $id}) RETURN n", r.label)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, err
	}
	if !res.Next(ctx) {
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return r.decode(res.Record())
}

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	cypher := fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY n.id SKIP $offset LIMIT $limit", r.label)
	res, err := sess.Run(ctx, cypher, map[string]any{"offset": opts.Offset, "limit": limit})
	if err != nil {
		return nil, err
	}

	var items []T
	for res.Next(ctx) {
		item, err := r.decode(res.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Upsert merges the node on its id and overwrites the given properties.
func (r *Neo4jRepo[T, ID]) Upsert(ctx context.Context, entity T) error {
	props := r.toMap(entity)
	id, ok := props["id"]
	if !ok {
		return fmt.Errorf("repo: %s entity has no id", r.label)
	}
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MERGE (n:%s {id: $id}) SET n += $props", r.label)
	_, err := sess.Run(ctx, cypher, map[string]any{"id": id, "props": props})
	return err
}

// Link merges (from)-[:rel]->(to). Both nodes must exist.
func (r *Neo4jRepo[T, ID]) Link(ctx context.Context, from ID, rel, toLabel string, to any) error {
	if !identifier.MatchString(rel) || !identifier.MatchString(toLabel) {
		return fmt.Errorf("repo: invalid relationship %q to %q", rel, toLabel)
	}
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (a:%s {id: $from}) MATCH (b:%s {id: $to}) MERGE (a)-[:%s]->(b)",
		r.label, toLabel, rel)
	_, err := sess.Run(ctx, cypher, map[string]any{"from": from, "to": to})
	return err
}

// Delete removes the node and its relationships.
func (r *Neo4jRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {id: $id}) DETACH DELETE n", r.label)
	_, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	return err
}

// PruneLinked detach-deletes the toLabel nodes reached from the node from
// over rel whose properties equal match and whose id is not in keep. It
// returns how many nodes were removed.
func (r *Neo4jRepo[T, ID]) PruneLinked(ctx context.Context, from ID, rel, toLabel string, match map[string]any, keep []string) (int, error) {
	if !identifier.MatchString(rel) || !identifier.MatchString(toLabel) {
		return 0, fmt.Errorf("repo: invalid relationship %q to %q", rel, toLabel)
	}
	params := map[string]any{"from": from, "keep": keep}
	keys := make([]string, 0, len(match))
	for k := range match {
		if !identifier.MatchString(k) {
			return 0, fmt.Errorf("repo: invalid property %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var where strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&where, "b.%s = $p_%s AND ", k, k)
		params["p_"+k] = match[k]
	}

	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (a:%s {id: $from})-[:%s]->(b:%s) WHERE %sNOT b.id IN $keep DETACH DELETE b RETURN count(*) AS n",
		r.label, rel, toLabel, where.String())
	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return 0, err
	}
	if !res.Next(ctx) {
		return 0, nil
	}
	n, _ := res.Record().Get("n")
	count, _ := n.(int64)
	return int(count), nil
}

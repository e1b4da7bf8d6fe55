// Package export writes an app's unified combo collection to Neo4j as a
// graph: (App)-[:HAS_COMBO]->(Combo)-[:CONTAINS]->(Token). Generated and
// custom combos come from the same collection and differ only by the
// origin property. An export replaces the app's combos for its locale and
// platform.
package export

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/pkg/repo"
)

// Node labels and relationship types.
const (
	LabelApp   = "App"
	LabelCombo = "Combo"
	LabelToken = "Token"

	RelHasCombo = "HAS_COMBO"
	RelContains = "CONTAINS"
)

var namespace = uuid.MustParse("8f0e4a52-6c1d-4b8e-9a57-3f2d1c0b9e64")

// AppNode is an app in the graph.
type AppNode struct {
	ID             string
	OrganizationID string
}

// ComboNode is one combo of an app in a locale and platform.
type ComboNode struct {
	ID        string
	AppID     string
	Text      string
	Locale    string
	Platform  string
	Sources   string
	WordCount int
	Tier      int
	Origin    string
}

// TokenNode is a word shared by every app in a locale and platform.
type TokenNode struct {
	ID       string
	Text     string
	Locale   string
	Platform string
}

type nodes[T any] interface {
	Upsert(ctx context.Context, entity T) error
	Link(ctx context.Context, from string, rel, toLabel string, to any) error
}

type appNodes interface {
	nodes[AppNode]
	PruneLinked(ctx context.Context, from string, rel, toLabel string, match map[string]any, keep []string) (int, error)
}

// Exporter writes combo collections to the graph.
type Exporter struct {
	apps   appNodes
	combos nodes[ComboNode]
	tokens nodes[TokenNode]
}

// New creates an Exporter on a Neo4j driver.
func New(driver neo4j.DriverWithContext) *Exporter {
	return &Exporter{
		apps:   repo.NewNeo4jRepo[AppNode, string](driver, LabelApp, appToMap, appFromProps),
		combos: repo.NewNeo4jRepo[ComboNode, string](driver, LabelCombo, comboToMap, comboFromProps),
		tokens: repo.NewNeo4jRepo[TokenNode, string](driver, LabelToken, tokenToMap, tokenFromProps),
	}
}

// ComboID is the deterministic node id of a combo.
func ComboID(appID, locale string, platform domain.Platform, text string) string {
	key := domain.RankingKey{AppID: appID, Combo: text, Locale: locale, Platform: platform}
	return uuid.NewSHA1(namespace, []byte(key.String())).String()
}

// TokenID is the deterministic node id of a token.
func TokenID(locale string, platform domain.Platform, word string) string {
	return uuid.NewSHA1(namespace, []byte(locale+"|"+string(platform)+"|"+word)).String()
}

// Export upserts the app, its combos and their tokens, then removes the
// app's combo nodes in locale and platform that are no longer in combos.
// Re-exporting the same collection changes nothing.
func (e *Exporter) Export(ctx context.Context, app domain.AppContext, locale string, platform domain.Platform, combos []domain.Combo) error {
	if err := e.apps.Upsert(ctx, AppNode{ID: app.AppID, OrganizationID: app.OrganizationID}); err != nil {
		return fmt.Errorf("export: app %s: %w", app.AppID, err)
	}
	seen := make(map[string]bool)
	keep := make([]string, 0, len(combos))
	for _, c := range combos {
		node := ComboNode{
			ID:        ComboID(app.AppID, locale, platform, c.Text),
			AppID:     app.AppID,
			Text:      c.Text,
			Locale:    locale,
			Platform:  string(platform),
			Sources:   c.Sources.Key(),
			WordCount: c.WordCount,
			Tier:      int(c.Tier),
			Origin:    string(c.Origin),
		}
		keep = append(keep, node.ID)
		if err := e.combos.Upsert(ctx, node); err != nil {
			return fmt.Errorf("export: combo %q: %w", c.Text, err)
		}
		if err := e.apps.Link(ctx, app.AppID, RelHasCombo, LabelCombo, node.ID); err != nil {
			return fmt.Errorf("export: link combo %q: %w", c.Text, err)
		}
		for _, w := range c.Words() {
			tid := TokenID(locale, platform, w)
			if !seen[tid] {
				seen[tid] = true
				if err := e.tokens.Upsert(ctx, TokenNode{ID: tid, Text: w, Locale: locale, Platform: string(platform)}); err != nil {
					return fmt.Errorf("export: token %q: %w", w, err)
				}
			}
			if err := e.combos.Link(ctx, node.ID, RelContains, LabelToken, tid); err != nil {
				return fmt.Errorf("export: link token %q: %w", w, err)
			}
		}
	}
	match := map[string]any{"locale": locale, "platform": string(platform)}
	if _, err := e.apps.PruneLinked(ctx, app.AppID, RelHasCombo, LabelCombo, match, keep); err != nil {
		return fmt.Errorf("export: prune combos of %s: %w", app.AppID, err)
	}
	return nil
}

func appToMap(a AppNode) map[string]any {
	return map[string]any{"id": a.ID, "organization_id": a.OrganizationID}
}

func appFromProps(p map[string]any) (AppNode, error) {
	return AppNode{ID: strProp(p, "id"), OrganizationID: strProp(p, "organization_id")}, nil
}

func comboToMap(c ComboNode) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"app_id":     c.AppID,
		"text":       c.Text,
		"locale":     c.Locale,
		"platform":   c.Platform,
		"sources":    c.Sources,
		"word_count": c.WordCount,
		"tier":       c.Tier,
		"origin":     c.Origin,
	}
}

func comboFromProps(p map[string]any) (ComboNode, error) {
	return ComboNode{
		ID:        strProp(p, "id"),
		AppID:     strProp(p, "app_id"),
		Text:      strProp(p, "text"),
		Locale:    strProp(p, "locale"),
		Platform:  strProp(p, "platform"),
		Sources:   strProp(p, "sources"),
		WordCount: intProp(p, "word_count"),
		Tier:      intProp(p, "tier"),
		Origin:    strProp(p, "origin"),
	}, nil
}

func tokenToMap(t TokenNode) map[string]any {
	return map[string]any{"id": t.ID, "text": t.Text, "locale": t.Locale, "platform": t.Platform}
}

func tokenFromProps(p map[string]any) (TokenNode, error) {
	return TokenNode{ID: strProp(p, "id"), Text: strProp(p, "text"), Locale: strProp(p, "locale"), Platform: strProp(p, "platform")}, nil
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

// intProp reads an integer property. Neo4j returns int64.
func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

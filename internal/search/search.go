// Package search provides free-text lookup over a user's instruments using
// an in-memory bleve index.
package search

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"smartvalue/internal/domain"
)

// DefaultLimit caps the number of hits returned when no limit is given.
const DefaultLimit = 50

// document is the indexed form of an instrument.
type document struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Group  string `json:"group"`
	Market string `json:"market"`
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Store = false
	docMapping.AddFieldMappingsAt("name", text)
	docMapping.AddFieldMappingsAt("group", text)

	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"
	keyword.Store = false
	docMapping.AddFieldMappingsAt("symbol", keyword)
	docMapping.AddFieldMappingsAt("market", keyword)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Search ranks the instruments of list matching q: exact symbol first, then
// symbol prefix, name and group matches, then substring matches. An empty q
// returns list unchanged.
func Search(list []domain.Instrument, q string, limit int) ([]domain.Instrument, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return list, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating search index: %w", err)
	}
	defer index.Close()

	byID := make(map[string]domain.Instrument, len(list))
	batch := index.NewBatch()
	for _, inst := range list {
		byID[inst.ID] = inst
		doc := document{
			Symbol: strings.ToLower(inst.Symbol),
			Name:   inst.Name,
			Group:  inst.GroupOrDefault(),
			Market: strings.ToLower(string(inst.Market)),
		}
		if err := batch.Index(inst.ID, doc); err != nil {
			return nil, fmt.Errorf("indexing %s: %w", inst.Symbol, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("indexing batch: %w", err)
	}

	req := bleve.NewSearchRequest(buildQuery(q))
	req.Size = limit
	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", q, err)
	}

	out := make([]domain.Instrument, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if inst, ok := byID[hit.ID]; ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

func buildQuery(q string) query.Query {
	lower := strings.ToLower(q)

	exact := bleve.NewTermQuery(lower)
	exact.SetField("symbol")
	exact.SetBoost(10.0)

	prefix := bleve.NewPrefixQuery(lower)
	prefix.SetField("symbol")
	prefix.SetBoost(5.0)

	name := bleve.NewMatchQuery(q)
	name.SetField("name")
	name.SetBoost(3.0)

	group := bleve.NewMatchQuery(q)
	group.SetField("group")
	group.SetBoost(2.0)

	market := bleve.NewTermQuery(lower)
	market.SetField("market")
	market.SetBoost(1.0)

	wildcardName := bleve.NewWildcardQuery("*" + lower + "*")
	wildcardName.SetField("name")
	wildcardName.SetBoost(1.5)

	wildcardSymbol := bleve.NewWildcardQuery("*" + lower + "*")
	wildcardSymbol.SetField("symbol")
	wildcardSymbol.SetBoost(1.0)

	return bleve.NewDisjunctionQuery(exact, prefix, name, group, market, wildcardName, wildcardSymbol)
}

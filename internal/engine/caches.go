package engine

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/basesync/basesync/internal/remote"
)

const cacheSize = 256

// runCaches hold per-run lookups that cut API chatter: database id to data
// source id, and database id to schema. Both are rebuilt at run start and
// the schema entry is dropped after any schema change.
type runCaches struct {
	dataSourceIDs *lru.Cache[string, string]
	schemas       *lru.Cache[string, *remote.DataSource]
}

func newRunCaches() *runCaches {
	ids, _ := lru.New[string, string](cacheSize)
	schemas, _ := lru.New[string, *remote.DataSource](cacheSize)

	return &runCaches{dataSourceIDs: ids, schemas: schemas}
}

func (c *runCaches) invalidateSchema(databaseID string) {
	c.schemas.Remove(databaseID)
}

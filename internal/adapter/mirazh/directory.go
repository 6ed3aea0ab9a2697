package mirazh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/oshokin/alarm-bridge/internal/codec/mirazh"
)

// ErrUnknownObject is returned for object numbers the server does not know.
var ErrUnknownObject = errors.New("unknown object")

const objectsQuery = `select o.object_id, o.object_number, array_agg(s.sensor_number - 1) as zones
from "object" o
left join sensor s on s.object_id = o.object_id
where s.sensor_number <= $1`

const objectsGroup = `
group by o.object_id, o.object_number
order by o.object_number`

// Object is a server object with its zero-based zones.
type Object struct {
	ID     int64
	Number int
	Zones  []int
}

// Querier runs a query; *pgxpool.Pool implements it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Directory caches object ids and zone lists by object number.
type Directory struct {
	db Querier

	mu       sync.RWMutex
	byNumber map[int]Object
}

// NewDirectory creates an empty directory over db; db may be nil when lookups are preloaded.
func NewDirectory(db Querier) *Directory {
	return &Directory{db: db, byNumber: make(map[int]Object)}
}

// Load replaces the cache with every object of the server.
func (d *Directory) Load(ctx context.Context) (int, error) {
	objects, err := d.query(ctx, objectsQuery+objectsGroup, mirazh.ZoneCount)
	if err != nil {
		return 0, err
	}

	byNumber := make(map[int]Object, len(objects))
	for _, o := range objects {
		byNumber[o.Number] = o
	}

	d.mu.Lock()
	d.byNumber = byNumber
	d.mu.Unlock()

	return len(objects), nil
}

// Lookup returns an object, querying the server on a cache miss.
func (d *Directory) Lookup(ctx context.Context, number int) (Object, error) {
	if o, ok := d.Cached(number); ok {
		return o, nil
	}

	objects, err := d.query(ctx, objectsQuery+" and o.object_number = $2"+objectsGroup, mirazh.ZoneCount, number)
	if err != nil {
		return Object{}, err
	}

	if len(objects) == 0 {
		return Object{}, fmt.Errorf("%w: %d", ErrUnknownObject, number)
	}

	d.Put(objects[0])

	return objects[0], nil
}

// Cached returns an object without querying.
func (d *Directory) Cached(number int) (Object, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	o, ok := d.byNumber[number]

	return o, ok
}

// Put caches an object.
func (d *Directory) Put(o Object) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.byNumber[o.Number] = o
}

func (d *Directory) query(ctx context.Context, sql string, args ...any) ([]Object, error) {
	if d.db == nil {
		return nil, fmt.Errorf("%w: no database", ErrUnknownObject)
	}

	rows, err := d.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query objects: %w", err)
	}

	objects, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Object, error) {
		var o Object

		err := row.Scan(&o.ID, &o.Number, &o.Zones)

		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan objects: %w", err)
	}

	return objects, nil
}

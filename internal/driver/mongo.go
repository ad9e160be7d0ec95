package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fluxquery/internal/results"
)

// DocumentColumn is the single column of a Mongo result.
const DocumentColumn = "document"

type MongoDriver struct {
	uri string

	mu     sync.Mutex
	client *mongo.Client
}

func NewMongoDriver(uri string) *MongoDriver {
	return &MongoDriver{uri: uri}
}

func (d *MongoDriver) Name() string {
	return "mongo"
}

func (d *MongoDriver) connect(ctx context.Context) (*mongo.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(d.uri))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		d.client = client
	}
	return d.client, nil
}

func (d *MongoDriver) Ping(ctx context.Context) error {
	client, err := d.connect(ctx)
	if err != nil {
		return err
	}
	return client.Ping(ctx, nil)
}

func (d *MongoDriver) Query(statement string) (results.Driver[Row], error) {
	st, err := parseFind(statement)
	if err != nil {
		return nil, err
	}
	client, err := d.connect(context.Background())
	if err != nil {
		return nil, err
	}
	return &mongoQuery{coll: client.Database(st.Database).Collection(st.Collection), filter: st.Filter}, nil
}

func (d *MongoDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		err := d.client.Disconnect(context.Background())
		d.client = nil
		return err
	}
	return nil
}

// findStatement is a parsed "[db.]collection.find({filter})". An empty
// Database selects the one named in the connection URI.
type findStatement struct {
	Database   string
	Collection string
	Filter     bson.M
}

func parseFind(statement string) (findStatement, error) {
	var st findStatement
	q := strings.TrimSpace(statement)

	start := strings.Index(q, "(")
	end := strings.LastIndex(q, ")")
	if start == -1 || end == -1 || end < start {
		return st, errors.New("invalid query format: expected collection.find(filter)")
	}

	raw := strings.TrimSpace(q[start+1 : end])
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &st.Filter); err != nil {
		return st, fmt.Errorf("invalid filter JSON: %w", err)
	}

	segments := strings.Split(q[:start], ".")
	if segments[len(segments)-1] != "find" {
		return st, errors.New("only 'find' command is supported")
	}
	switch len(segments) {
	case 3:
		st.Database, st.Collection = segments[0], segments[1]
	case 2:
		st.Collection = segments[0]
	default:
		return st, errors.New("invalid query format: expected [db.]collection.find(...)")
	}
	if st.Collection == "" {
		return st, errors.New("missing collection name")
	}
	return st, nil
}

// mongoQuery reports the matching document count in its header, so Count does
// not need to walk the cursor.
type mongoQuery struct {
	results.Pacer
	coll   *mongo.Collection
	filter bson.M

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (q *mongoQuery) Perform(limit int, onSignal results.SignalFunc[Row]) {
	q.Start(limit)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	columns := []string{DocumentColumn}
	fail := func(err error) {
		if q.Cancelled() {
			err = nil
		}
		onSignal(results.FinalSignal[Row](results.Metadata{TotalRows: results.UnknownTotal, Columns: columns}, err))
	}
	if q.Cancelled() {
		fail(nil)
		return
	}

	total, err := q.coll.CountDocuments(ctx, q.filter)
	if err != nil {
		fail(fmt.Errorf("count documents: %w", err))
		return
	}
	onSignal(results.HeaderSignal[Row](results.Metadata{TotalRows: int(total), Columns: columns}))

	cursor, err := q.coll.Find(ctx, q.filter)
	if err != nil {
		fail(fmt.Errorf("find: %w", err))
		return
	}
	defer cursor.Close(context.Background())

	n := 0
	for q.Wait(n) && cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			fail(fmt.Errorf("decode document: %w", err))
			return
		}
		data, err := json.Marshal(doc)
		if err != nil {
			fail(fmt.Errorf("encode document: %w", err))
			return
		}
		onSignal(results.RowSignal(Row{string(data)}))
		n++
	}

	err = cursor.Err()
	if q.Cancelled() {
		err = nil
	}
	onSignal(results.FinalSignal[Row](results.Metadata{TotalRows: int(total), Columns: columns}, err))
}

func (q *mongoQuery) Cancel() {
	q.Pacer.Cancel()
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

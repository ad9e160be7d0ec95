package driver

import "testing"

func TestParseFind(t *testing.T) {
	tests := []struct {
		name       string
		statement  string
		database   string
		collection string
		filterKeys int
		wantErr    bool
	}{
		{name: "with database", statement: `shop.users.find({"age": {"$gt": 18}})`, database: "shop", collection: "users", filterKeys: 1},
		{name: "default database", statement: `users.find({})`, collection: "users"},
		{name: "empty filter", statement: `users.find()`, collection: "users"},
		{name: "surrounding space", statement: "  orders.find({\"paid\": true})  ", collection: "orders", filterKeys: 1},
		{name: "not find", statement: `users.aggregate([])`, wantErr: true},
		{name: "no parens", statement: `users.find`, wantErr: true},
		{name: "bad json", statement: `users.find({age: 1})`, wantErr: true},
		{name: "too many segments", statement: `a.b.c.find({})`, wantErr: true},
		{name: "empty collection", statement: `.find({})`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := parseFind(tt.statement)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", st)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if st.Database != tt.database || st.Collection != tt.collection {
				t.Errorf("got %s.%s, want %s.%s", st.Database, st.Collection, tt.database, tt.collection)
			}
			if len(st.Filter) != tt.filterKeys {
				t.Errorf("filter = %v", st.Filter)
			}
		})
	}
}

func TestMongoDriver_QueryRejectsBadStatement(t *testing.T) {
	d := NewMongoDriver("mongodb://localhost:27017")
	if _, err := d.Query("DROP TABLE users"); err == nil {
		t.Error("expected parse error")
	}
}

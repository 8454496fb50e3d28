package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/EmpoweredVote/instance-registry/internal/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testDB *gorm.DB

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env.local")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		// PostGIS tests skip themselves.
		os.Exit(m.Run())
	}

	conn, err := db.Connect(dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	if err := Migrate(context.Background(), conn); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	testDB = conn

	code := m.Run()
	_ = db.Close(conn)
	os.Exit(code)
}

func requireDB(t *testing.T) *GormStore {
	t.Helper()
	if testDB == nil {
		t.Skip("DATABASE_URL not set; skipping PostGIS test")
	}
	return NewGormStore(testDB)
}

func uniqueLink(t *testing.T) string {
	link := "https://" + uuid.NewString() + ".test"
	t.Cleanup(func() {
		testDB.Exec(`DELETE FROM registry.instances WHERE link = ?`, link)
	})
	return link
}

func detailAt(t *testing.T, link string, region interface{}) Detail {
	t.Helper()
	d, err := Normalize(map[string]interface{}{
		"name":          "Courier",
		"link":          link,
		"websocketLink": "wss://example.com/ws",
		"region":        region,
		"imageUrl":      "https://example.com/logo.png",
		"userCount":     json.Number("5"),
	})
	require.NoError(t, err)
	return d
}

func point(lng, lat float64) map[string]interface{} {
	return map[string]interface{}{"type": "Point", "coordinates": []interface{}{lng, lat}}
}

func TestGormStore_InsertDuplicate(t *testing.T) {
	s := requireDB(t)
	ctx := context.Background()
	link := uniqueLink(t)

	first, err := s.Insert(ctx, detailAt(t, link, point(1, 1)))
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, first.Status)

	_, err = s.Insert(ctx, detailAt(t, link, point(2, 2)))
	assert.True(t, IsKind(err, KindConflict), "got %v", err)

	got, err := s.FindByLink(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	require.NotNil(t, got.Region)
	assert.Equal(t, "Point", got.Region.Geometry.GeoJSONType())
}

func TestGormStore_MergeAndDelete(t *testing.T) {
	s := requireDB(t)
	ctx := context.Background()
	link := uniqueLink(t)

	inserted, err := s.Insert(ctx, detailAt(t, link, point(1, 1)))
	require.NoError(t, err)

	count := int64(900)
	rules := "https://example.com/rules"
	merged, err := s.MergeUpdate(ctx, link, Detail{UserCount: &count, RulesURL: &rules})
	require.NoError(t, err)
	assert.Equal(t, int64(900), merged.UserCount)
	assert.Equal(t, "Courier", merged.Name)
	assert.Equal(t, rules, merged.PolicyLinks.Data().RulesURL)
	require.NotNil(t, merged.LastFetchedAt)
	assert.False(t, merged.LastFetchedAt.Before(*inserted.LastFetchedAt))
	assert.NotNil(t, merged.UpdatedAt)

	require.NoError(t, s.DeleteByLink(ctx, link))
	assert.True(t, IsKind(s.DeleteByLink(ctx, link), KindNotFound))
	_, err = s.MergeUpdate(ctx, link, Detail{UserCount: &count})
	assert.True(t, IsKind(err, KindNotFound))
}

func TestGormStore_ListVerifiedOrdering(t *testing.T) {
	s := requireDB(t)
	ctx := context.Background()

	near := uniqueLink(t)
	far := uniqueLink(t)
	_, err := s.Insert(ctx, detailAt(t, far, point(-0.1276, 51.5072)))
	require.NoError(t, err)
	_, err = s.Insert(ctx, detailAt(t, near, point(-74.6514, 40.344)))
	require.NoError(t, err)

	ranked, err := s.ListVerified(ctx, Point{Lat: 40.344, Lng: -74.6514})
	require.NoError(t, err)

	pos := map[string]int{}
	for i, ri := range ranked {
		pos[ri.Link] = i
		if ri.Link == near {
			require.NotNil(t, ri.Distance)
			assert.InDelta(t, 0, *ri.Distance, 1)
		}
	}
	assert.Less(t, pos[near], pos[far])

	seenNull := false
	for _, ri := range ranked {
		if ri.Distance == nil {
			seenNull = true
		} else {
			assert.False(t, seenNull, "regionless instances sort last")
		}
	}
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKey(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isDuplicateKey(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isDuplicateKey(gorm.ErrRecordNotFound))
}

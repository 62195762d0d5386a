package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/slopecraft/terrain-cache/internal/cache"
	"github.com/slopecraft/terrain-cache/internal/cache/keys"
	"github.com/slopecraft/terrain-cache/internal/cache/redisstore"
	"github.com/slopecraft/terrain-cache/internal/cache/store"
	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/geo"
)

var area = model.SourceArea{
	ID:   "area-1",
	Name: "Test Resort",
	Bounds: model.Bounds{
		SouthWest: model.Coordinate{Lat: 46.0, Lng: 10.0},
		NorthEast: model.Coordinate{Lat: 46.1, Lng: 10.1},
	},
	Elevation: model.ElevationRange{Min: 1000, Max: 3000},
}

func validRun(id string) Run {
	return Run{
		ID: id,
		Boundary: model.Boundary{
			{Lat: 46.02, Lng: 10.02},
			{Lat: 46.02, Lng: 10.08},
			{Lat: 46.08, Lng: 10.05},
		},
		SourceAreaID: area.ID,
		GridSize:     model.GridMedium,
	}
}

func newCatalog(t *testing.T) (*Catalog, cache.Interface) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	st, err := store.New(nil, cli, 16)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	c := New(nil, st, time.Hour)
	if err := c.RegisterArea(area); err != nil {
		t.Fatalf("RegisterArea: %v", err)
	}
	return c, st
}

func TestRegisterArea_RejectsInvalid(t *testing.T) {
	c, _ := newCatalog(t)
	if err := c.RegisterArea(model.SourceArea{}); err == nil {
		t.Fatal("empty area must be rejected")
	}
	bad := area
	bad.Bounds.NorthEast = bad.Bounds.SouthWest
	if err := c.RegisterArea(bad); err == nil {
		t.Fatal("degenerate bounds must be rejected")
	}
}

func TestArea_UnknownID(t *testing.T) {
	c, _ := newCatalog(t)
	_, err := c.Area("ghost")
	if !errors.Is(err, ErrAreaNotFound) {
		t.Fatalf("want ErrAreaNotFound, got %v", err)
	}
}

func TestSaveGetRun_Roundtrip(t *testing.T) {
	c, _ := newCatalog(t)
	ctx := context.Background()

	in := validRun("run-1")
	if err := c.SaveRun(ctx, in); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	out, err := c.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if out.ID != in.ID || out.SourceAreaID != in.SourceAreaID || out.GridSize != in.GridSize {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
	if len(out.Boundary) != len(in.Boundary) {
		t.Fatalf("boundary length: %d", len(out.Boundary))
	}
}

func TestSaveRun_Validation(t *testing.T) {
	c, _ := newCatalog(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Run)
	}{
		{"missing id", func(r *Run) { r.ID = "" }},
		{"bad grid size", func(r *Run) { r.GridSize = 17 }},
		{"two-point boundary", func(r *Run) { r.Boundary = r.Boundary[:2] }},
		{"unknown area", func(r *Run) { r.SourceAreaID = "ghost" }},
	}
	for _, tc := range cases {
		r := validRun("run-x")
		tc.mutate(&r)
		if err := c.SaveRun(ctx, r); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestGetRun_NotFound(t *testing.T) {
	c, _ := newCatalog(t)
	_, err := c.GetRun(context.Background(), "ghost")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("want ErrRunNotFound, got %v", err)
	}
}

func TestDeleteRun_RemovesRunAndTerrain(t *testing.T) {
	c, st := newCatalog(t)
	ctx := context.Background()

	run := validRun("run-1")
	if err := c.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	fp, err := geo.Fingerprint(run.Boundary)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	// simulate cached terrain at two grid sizes
	for _, g := range []model.GridSize{model.GridSmall, model.GridLarge} {
		if err := st.Put(ctx, cache.NamespaceTerrain, keys.Terrain(fp, g),
			map[string]int{"x": 1}, time.Hour); err != nil {
			t.Fatalf("Put terrain: %v", err)
		}
	}

	if err := c.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}

	if _, err := c.GetRun(ctx, "run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("run still present: %v", err)
	}
	for _, g := range []model.GridSize{model.GridSmall, model.GridLarge} {
		ok, err := st.Get(ctx, cache.NamespaceTerrain, keys.Terrain(fp, g), nil)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok {
			t.Fatalf("terrain at %s survived delete", g)
		}
	}
}

func TestDeleteRun_UnknownRun(t *testing.T) {
	c, _ := newCatalog(t)
	err := c.DeleteRun(context.Background(), "ghost")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("want ErrRunNotFound, got %v", err)
	}
}

func TestSaveRun_GroupsByArea(t *testing.T) {
	c, st := newCatalog(t)
	ctx := context.Background()

	if err := c.SaveRun(ctx, validRun("run-1")); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := c.SaveRun(ctx, validRun("run-2")); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	ks, err := st.KeysForGroup(ctx, cache.NamespaceRuns, keys.Group(area.ID))
	if err != nil {
		t.Fatalf("KeysForGroup: %v", err)
	}
	if len(ks) != 2 {
		t.Fatalf("group members: %v", ks)
	}
}

package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
baseUrl: https://data.example.org
locale: fr-CA
credentials:
  accessToken: pk.test
search:
  layer: csd-search
  field: CSDUID
  rows:
    - [2410, "Granby", -72.8, 45.3, -72.6, 45.5]
maps:
  - id: income
    title: Median income
    style: https://tiles.example.org/style.json
    table: /tables/income.json
    sources:
      - name: csd
        file: csd.geojson
      - name: stations
        cluster: true
        data:
          type: FeatureCollection
          features:
            - type: Feature
              properties: {name: "A"}
              geometry: {type: Point, coordinates: [-73.5, 45.5]}
    layers:
      - {id: csd-fill, source: csd, type: fill}
      - {id: csd-line, source: csd, type: line, static: true}
      - {id: stations, source: stations, type: circle}
    legend:
      field: bracket
      entries:
        - {label: Low, color: "#fee5d9", value: low}
        - {label: High, color: "#a50f15", value: high}
    fields:
      - {id: name, label: Name}
      - {id: income, label: Income, type: currency, unit: "$"}
    clickable: [csd-fill]
  - id: housing
    title: Housing
    style: https://tiles.example.org/housing.json
`

const csdGeoJSON = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"CSDUID":"2410","bracket":"low"},
  "geometry":{"type":"Polygon","coordinates":[[[-74,45],[-73,45],[-73,46],[-74,46],[-74,45]]]}}]}`

func loadSample(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "csd.geojson"), []byte(csdGeoJSON), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestLoad_resolvesSources(t *testing.T) {
	cfg := loadSample(t)

	if cfg.Credentials.AccessToken != "pk.test" {
		t.Fatalf("expected token, got %q", cfg.Credentials.AccessToken)
	}
	if cfg.Search.Padding != DefaultSearchPadding || cfg.Search.Color != DefaultSearchColor {
		t.Fatalf("expected search defaults, got %+v", cfg.Search)
	}

	income := cfg.Maps[0]
	if got := len(income.DataSources[0].Data.Features); got != 1 {
		t.Fatalf("expected 1 file feature, got %d", got)
	}
	if got := len(income.DataSources[1].Data.Features); got != 1 {
		t.Fatalf("expected 1 inline feature, got %d", got)
	}
	if !income.DataSources[1].Clustered {
		t.Fatalf("expected clustered source")
	}
	if got := income.StyledLayerIDs(); len(got) != 2 || got[0] != "csd-fill" || got[1] != "stations" {
		t.Fatalf("unexpected styled layers %v", got)
	}
	if got := income.StaticLayerIDs(); len(got) != 1 || got[0] != "csd-line" {
		t.Fatalf("unexpected static layers %v", got)
	}
}

func TestLoad_missingSourceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "maps:\n  - id: a\n    sources:\n      - {name: s, file: nope.geojson}\n"
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing geojson file")
	}
}

func TestCatalog_resolveFallsBackToFirst(t *testing.T) {
	cfg := loadSample(t)
	c, err := New(cfg.Maps)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	def, ok := c.Resolve("housing")
	if !ok || def.ID != "housing" {
		t.Fatalf("expected housing, got %q (%v)", def.ID, ok)
	}

	def, ok = c.Resolve("removed-map")
	if ok {
		t.Fatalf("expected unknown id to be reported")
	}
	if def.ID != "income" {
		t.Fatalf("expected fallback to first entry, got %q", def.ID)
	}
}

func TestNew_rejectsDuplicatesAndEmpty(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected empty catalog error")
	}
	if _, err := New([]MapDefinition{{ID: "a"}, {ID: "a"}}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	c, err := New([]MapDefinition{{Title: "Median Income"}})
	if err != nil {
		t.Fatal(err)
	}
	if c.First().ID != "median_income" {
		t.Fatalf("expected generated id, got %q", c.First().ID)
	}
}

func TestGenerateID(t *testing.T) {
	if got := GenerateID(" Low / Moderate (2021) "); got != "low__moderate_2021" {
		t.Fatalf("unexpected id %q", got)
	}
}

func TestLoad_expandsEnvironment(t *testing.T) {
	t.Setenv("GEOVIEW_TEST_TOKEN", "secret")
	dir := t.TempDir()
	path := filepath.Join(dir, "geoview.yaml")
	cfg := "credentials:\n  accessToken: ${GEOVIEW_TEST_TOKEN}\nmaps:\n  - id: a\n    title: A\n    fields:\n      - {id: v, unit: \"$\"}\n"
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Credentials.AccessToken != "secret" {
		t.Fatalf("token not expanded: %q", got.Credentials.AccessToken)
	}
	if got.Maps[0].Fields[0].Unit != "$" {
		t.Fatalf("lone dollar should survive, got %q", got.Maps[0].Fields[0].Unit)
	}
}

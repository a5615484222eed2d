package main

import "testing"

func TestPendingFeatureTagChecks(t *testing.T) {
	p := NewPendingFeature(1, map[string]string{"highway": "primary", "name": "X"})

	if !p.HasTag("highway", "primary") {
		t.Error("HasTag should match")
	}
	if p.HasTag("highway", "secondary") {
		t.Error("HasTag should compare values")
	}
	if !p.HasAnyTag("nonexistent", "name") {
		t.Error("HasAnyTag should match any key")
	}
	if p.HasAnyTag("a", "b") {
		t.Error("HasAnyTag without matches should be false")
	}
}

func TestPendingFeatureApproval(t *testing.T) {
	p := NewPendingFeature(1, nil)
	if p.approved {
		t.Error("fresh pending feature must not be approved")
	}
	if p.minZoom != invalidZoomLevel {
		t.Errorf("fresh min zoom = %d, want sentinel", p.minZoom)
	}

	p.SetApprovedMin(7)
	if !p.approved || p.minZoom != 7 {
		t.Errorf("approved=%v minZoom=%d", p.approved, p.minZoom)
	}

	p2 := NewPendingFeature(2, nil)
	p2.SetApprovedFull()
	if !p2.approved || p2.minZoom != 0 {
		t.Errorf("full approval: approved=%v minZoom=%d", p2.approved, p2.minZoom)
	}
}

func TestSetApprovedMinByAreaMonotone(t *testing.T) {
	big := NewPendingFeature(1, nil)
	big.SetApprovedMinByArea(1e18)

	small := NewPendingFeature(2, nil)
	small.SetApprovedMinByArea(1e6)

	if big.minZoom > small.minZoom {
		t.Errorf("bigger area should appear earlier: big=%d small=%d", big.minZoom, small.minZoom)
	}

	degenerate := NewPendingFeature(3, nil)
	degenerate.SetApprovedMinByArea(0)
	if degenerate.minZoom != maxZoomLevel {
		t.Errorf("zero area min zoom = %d, want %d", degenerate.minZoom, maxZoomLevel)
	}
}

func TestMakeMeta(t *testing.T) {
	p := NewPendingFeature(1, map[string]string{"highway": "primary", "surface": "asphalt"})
	p.SetTargetLayer("road")
	p.AddTagAsMetadata("highway")
	p.AddMetadata("class", "major")

	meta := p.makeMeta()
	if meta["layer"] != "road" {
		t.Errorf("layer = %q", meta["layer"])
	}
	if meta["highway"] != "primary" {
		t.Errorf("highway = %q", meta["highway"])
	}
	if meta["class"] != "major" {
		t.Errorf("class = %q", meta["class"])
	}
	if _, ok := meta["surface"]; ok {
		t.Error("unrequested tags must not leak into metadata")
	}
}

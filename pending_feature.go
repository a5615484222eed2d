package main

import "math"

// PendingFeature is what a classifier sees for each source object: its
// tags, plus setters deciding whether and how the feature enters the
// store. The classifier is swappable; the engine only ever consumes the
// resulting Feature.
type PendingFeature struct {
	ID   uint64
	Tags map[string]string

	approved    bool
	minZoom     uint32
	maxZoom     uint32
	targetLayer string
	tagAsMeta   []string
	metadata    map[string]string
}

func NewPendingFeature(id uint64, tags map[string]string) *PendingFeature {
	return &PendingFeature{
		ID:       id,
		Tags:     tags,
		minZoom:  invalidZoomLevel,
		maxZoom:  maxZoomLevel,
		metadata: map[string]string{},
	}
}

func (p *PendingFeature) GetID() uint64 { return p.ID }

func (p *PendingFeature) HasTag(key, value string) bool {
	return p.Tags[key] == value
}

func (p *PendingFeature) HasAnyTag(keys ...string) bool {
	for _, k := range keys {
		if _, ok := p.Tags[k]; ok {
			return true
		}
	}
	return false
}

// SetApprovedMin approves the feature for zoom levels [minZoom, max].
func (p *PendingFeature) SetApprovedMin(minZoom uint32) {
	p.approved = true
	p.minZoom = minZoom
}

// SetApprovedMinByArea derives the min zoom from the covered area in
// fixed units: big features appear early, small ones only when a tile
// pixel can resolve them.
func (p *PendingFeature) SetApprovedMinByArea(area float64) {
	if area <= 0 {
		p.SetApprovedMin(maxZoomLevel)
		return
	}
	// zoom at which the feature spans roughly 16 tile pixels
	extent := math.Sqrt(area)
	z := zInternal - math.Log2(extent/16)
	p.SetApprovedMin(uint32(math.Min(math.Max(z, 0), maxZoomLevel)))
}

// SetApprovedFull approves the feature for the whole zoom range.
func (p *PendingFeature) SetApprovedFull() {
	p.approved = true
	p.minZoom = 0
}

func (p *PendingFeature) SetTargetLayer(layer string) {
	p.targetLayer = layer
}

// AddTagAsMetadata copies the source tag into the feature metadata.
func (p *PendingFeature) AddTagAsMetadata(key string) {
	p.tagAsMeta = append(p.tagAsMeta, key)
}

func (p *PendingFeature) AddMetadata(key, value string) {
	p.metadata[key] = value
}

// makeMeta builds the final metadata map: requested tags first, explicit
// metadata second, the target layer last.
func (p *PendingFeature) makeMeta() map[string]string {
	meta := map[string]string{}
	for _, key := range p.tagAsMeta {
		meta[key] = p.Tags[key]
	}
	for k, v := range p.metadata {
		meta[k] = v
	}
	meta["layer"] = p.targetLayer
	return meta
}

// Classifier decides per source object whether it becomes a feature.
type Classifier func(*PendingFeature)

// defaultClassifier approves everything into the layer named by the
// source's non-empty "layer" tag, or into the given layer when there is
// none, keeping all other source tags as metadata. Used when no profile is
// configured.
func defaultClassifier(layer string, minZoom uint32) Classifier {
	return func(p *PendingFeature) {
		target := layer
		if l, ok := p.Tags["layer"]; ok && l != "" {
			target = l
		}
		p.SetTargetLayer(target)
		for k := range p.Tags {
			if k != "layer" {
				p.AddTagAsMetadata(k)
			}
		}
		if minZoom == 0 {
			p.SetApprovedFull()
		} else {
			p.SetApprovedMin(minZoom)
		}
	}
}

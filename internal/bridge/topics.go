// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package bridge

import "github.com/portolan-project/portolan/internal/models"

// Topic names. Per-kind channels keep a vessel-only consumer from decoding
// aircraft traffic.
const (
	TopicRegionAlert  = "alert.region"
	TopicConfigUpdate = "config.update"
)

// PositionTopic returns the per-kind position update topic.
func PositionTopic(kind models.AssetKind) string {
	return "position." + string(kind)
}

// NewAssetTopic returns the per-kind first-sighting topic.
func NewAssetTopic(kind models.AssetKind) string {
	return "asset.new." + string(kind)
}

// AllTopics lists every topic the gateway consumes.
func AllTopics() []string {
	topics := make([]string, 0, 2*len(models.Kinds)+2)
	for _, k := range models.Kinds {
		topics = append(topics, PositionTopic(k), NewAssetTopic(k))
	}
	return append(topics, TopicRegionAlert, TopicConfigUpdate)
}

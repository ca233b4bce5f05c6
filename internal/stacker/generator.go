package stacker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kozaktomas/photo-stacker/internal/config"
	"github.com/kozaktomas/photo-stacker/internal/constants"
	"github.com/kozaktomas/photo-stacker/internal/database"
	"github.com/kozaktomas/photo-stacker/internal/fingerprint"
)

// Generator materializes stacks from linked instances. Stacks are derived
// data: a run always clears the targeted stack type and rebuilds it from the
// current instances, so reruns with the same input produce the same stacks.
type Generator struct {
	assets     database.AssetStore
	stacks     database.StackStore
	embeddings database.EmbeddingReader
	rules      config.StackRules
}

// NewGenerator creates a stack generator with the given rule parameters.
func NewGenerator(assets database.AssetStore, stacks database.StackStore, embeddings database.EmbeddingReader, rules config.StackRules) *Generator {
	return &Generator{
		assets:     assets,
		stacks:     stacks,
		embeddings: embeddings,
		rules:      rules,
	}
}

// GenerationStats summarizes one generator run.
type GenerationStats struct {
	StackType     database.StackType `json:"stack_type"`
	RuleVersion   string             `json:"rule_version"`
	StacksCleared int64              `json:"stacks_cleared"`
	StacksCreated int                `json:"stacks_created"`
	MembersAdded  int                `json:"members_added"`
	Elapsed       time.Duration      `json:"elapsed"`
}

// Generate rebuilds all stacks of the given type for a project.
func (g *Generator) Generate(ctx context.Context, projectID int64, stackType database.StackType) (*GenerationStats, error) {
	switch stackType {
	case database.StackTypeDuplicate:
		return g.generateDuplicates(ctx, projectID)
	case database.StackTypeSimilar, database.StackTypeNearDuplicate, database.StackTypeBurst:
		return g.generateClustered(ctx, projectID, stackType)
	default:
		return nil, fmt.Errorf("unknown stack type: %s", stackType)
	}
}

// generateDuplicates creates one duplicate stack per asset with at least
// two instances. Member scores stay null, exactness has no gradation.
func (g *Generator) generateDuplicates(ctx context.Context, projectID int64) (*GenerationStats, error) {
	start := time.Now()
	stats := &GenerationStats{
		StackType:   database.StackTypeDuplicate,
		RuleVersion: g.rules.RuleVersion,
	}

	assets, err := g.assets.ListDuplicateAssets(ctx, projectID, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate assets: %w", err)
	}

	// Gather memberships before touching existing stacks, so a query
	// failure leaves the previous generation intact.
	groups := make([][]database.InstanceDetail, 0, len(assets))
	for _, asset := range assets {
		details, err := g.assets.InstanceDetailsForAsset(ctx, projectID, asset.AssetID)
		if err != nil {
			return nil, fmt.Errorf("failed to load instances for asset %d: %w", asset.AssetID, err)
		}
		if len(details) < 2 {
			continue
		}
		groups = append(groups, details)
	}

	cleared, err := g.stacks.ClearStacksByType(ctx, projectID, database.StackTypeDuplicate, "")
	if err != nil {
		return nil, fmt.Errorf("failed to clear duplicate stacks: %w", err)
	}
	stats.StacksCleared = cleared

	for _, group := range groups {
		members := duplicateMembers(group)
		if err := g.writeStack(ctx, projectID, database.StackTypeDuplicate, group, members); err != nil {
			return nil, err
		}
		stats.StacksCreated++
		stats.MembersAdded += len(members)
	}

	stats.Elapsed = time.Since(start)
	return stats, nil
}

// generateClustered runs the two-stage similar-shot pipeline: narrow
// candidates by perceptual-hash buckets, capture-time windows, and
// nearest-neighbor embedding search, confirm with embedding cosine
// similarity, cluster greedily, emit clusters of size two or more as stacks.
func (g *Generator) generateClustered(ctx context.Context, projectID int64, stackType database.StackType) (*GenerationStats, error) {
	start := time.Now()
	stats := &GenerationStats{
		StackType:   stackType,
		RuleVersion: g.rules.RuleVersion,
	}

	// Snapshot the candidate set up front. Instances linked after this
	// point are picked up by the next run.
	details, err := g.assets.ListInstanceDetails(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot instances: %w", err)
	}

	recordIDs := make([]int64, len(details))
	for i, d := range details {
		recordIDs[i] = d.PhotoRecordID
	}

	embeddings, err := g.embeddings.GetByRecordIDs(ctx, recordIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	index := NewCandidateIndex(embeddings)

	sim := g.pairwiseSimilarity(index)

	var groups [][]database.InstanceDetail
	for _, bucket := range narrowCandidates(details, index, g.rules) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, cluster := range GreedyCluster(bucket, 0, sim) {
			if len(cluster) >= 2 {
				groups = append(groups, cluster)
			}
		}
	}

	cleared, err := g.stacks.ClearStacksByType(ctx, projectID, stackType, "")
	if err != nil {
		return nil, fmt.Errorf("failed to clear %s stacks: %w", stackType, err)
	}
	stats.StacksCleared = cleared

	for _, group := range groups {
		members := scoredMembers(group, sim)
		if err := g.writeStack(ctx, projectID, stackType, group, members); err != nil {
			return nil, err
		}
		stats.StacksCreated++
		stats.MembersAdded += len(members)
	}

	stats.Elapsed = time.Since(start)
	return stats, nil
}

// writeStack persists one stack with its members and the rule parameters
// that produced it. The group must already be representative-first ordered
// to match the member ranks.
func (g *Generator) writeStack(ctx context.Context, projectID int64, stackType database.StackType, group []database.InstanceDetail, members []database.StackMember) error {
	stackID, err := g.stacks.CreateStack(ctx, projectID, stackType, group[0].ID, g.rules.RuleVersion)
	if err != nil {
		return fmt.Errorf("failed to create stack: %w", err)
	}
	if err := g.stacks.AddMembersBatch(ctx, projectID, stackID, members); err != nil {
		return fmt.Errorf("failed to add members to stack %d: %w", stackID, err)
	}
	if err := g.stacks.WriteMeta(ctx, projectID, stackID, g.rules); err != nil {
		return fmt.Errorf("failed to write meta for stack %d: %w", stackID, err)
	}
	return nil
}

// duplicateMembers orders the group best-first and builds rank-ordered
// members with null scores. Mutates group into representative-first order.
func duplicateMembers(group []database.InstanceDetail) []database.StackMember {
	SortByPreference(group)

	members := make([]database.StackMember, len(group))
	for i, d := range group {
		members[i] = database.StackMember{
			PhotoRecordID: d.PhotoRecordID,
			InstanceID:    d.ID,
			Rank:          i,
		}
	}
	return members
}

// scoredMembers orders the cluster best-first and scores every member
// against the elected representative. Members without a similarity signal
// toward the representative keep a null score.
func scoredMembers(group []database.InstanceDetail, sim SimilarityFunc) []database.StackMember {
	SortByPreference(group)
	rep := group[0]

	members := make([]database.StackMember, len(group))
	for i, d := range group {
		m := database.StackMember{
			PhotoRecordID: d.PhotoRecordID,
			InstanceID:    d.ID,
			Rank:          i,
		}
		if i == 0 {
			score := 1.0
			m.Score = &score
		} else if s, ok := sim(d, rep); ok {
			score := s
			m.Score = &score
		}
		members[i] = m
	}
	return members
}

// pairwiseSimilarity builds the confirmation scorer. Embedding cosine
// similarity is the primary signal; pairs without embeddings fall back to
// perceptual Hamming distance. Acceptance thresholds are applied here, a
// pair that fails its signal's threshold reports no signal at all.
func (g *Generator) pairwiseSimilarity(index *CandidateIndex) SimilarityFunc {
	return func(a, b database.InstanceDetail) (float64, bool) {
		if s, ok := index.Similarity(a.PhotoRecordID, b.PhotoRecordID); ok {
			if s < g.rules.SimilarityThreshold {
				return 0, false
			}
			return s, true
		}

		if a.PerceptualHash == "" || b.PerceptualHash == "" {
			return 0, false
		}
		ha, errA := fingerprint.ParseHex(a.PerceptualHash)
		hb, errB := fingerprint.ParseHex(b.PerceptualHash)
		if errA != nil || errB != nil {
			return 0, false
		}
		dist := fingerprint.HammingDistance(ha, hb)
		if dist > g.rules.HammingThreshold {
			return 0, false
		}
		return 1 - float64(dist)/64, true
	}
}

// narrowCandidates partitions the snapshot into candidate buckets so the
// confirmation stage never compares across the whole library. Two records
// land in the same bucket when they are connected through capture-time
// windows, matching perceptual-hash prefixes, or nearest-neighbor embedding
// edges from the index.
func narrowCandidates(details []database.InstanceDetail, index *CandidateIndex, rules config.StackRules) [][]database.InstanceDetail {
	if len(details) == 0 {
		return nil
	}

	uf := newUnionFind(len(details))

	// Capture-time sessions: sort by timestamp, chain records whose gap
	// stays within the window.
	byTime := make([]int, 0, len(details))
	for i, d := range details {
		if d.CapturedAt != nil {
			byTime = append(byTime, i)
		}
	}
	sort.Slice(byTime, func(i, j int) bool {
		a, b := details[byTime[i]], details[byTime[j]]
		if !a.CapturedAt.Equal(*b.CapturedAt) {
			return a.CapturedAt.Before(*b.CapturedAt)
		}
		return a.PhotoRecordID < b.PhotoRecordID
	})
	window := time.Duration(rules.CaptureWindowSeconds) * time.Second
	for i := 1; i < len(byTime); i++ {
		prev, cur := details[byTime[i-1]], details[byTime[i]]
		if cur.CapturedAt.Sub(*prev.CapturedAt) <= window {
			uf.union(byTime[i-1], byTime[i])
		}
	}

	// Perceptual-hash buckets: group by the top 16 bits of the pHash,
	// then connect pairs within a prefix bucket that pass the Hamming
	// threshold. Prefix grouping keeps the pairwise work per bucket small.
	prefixBuckets := make(map[uint16][]int)
	bits := make([]uint64, len(details))
	for i, d := range details {
		if d.PerceptualHash == "" {
			continue
		}
		h, err := fingerprint.ParseHex(d.PerceptualHash)
		if err != nil {
			continue
		}
		bits[i] = h
		prefix := uint16(h >> 48)
		prefixBuckets[prefix] = append(prefixBuckets[prefix], i)
	}
	for _, bucket := range prefixBuckets {
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				if fingerprint.Similar(bits[bucket[i]], bits[bucket[j]], rules.HammingThreshold) {
					uf.union(bucket[i], bucket[j])
				}
			}
		}
	}

	// Embedding edges: pull the nearest neighbors of each embedded record
	// from the index and connect pairs that clear the similarity threshold.
	// Records with embeddings but no timestamp and no perceptual hash only
	// become comparable through these edges. Pairs whose capture times both
	// exist and fall outside the window stay disconnected, the window binds
	// every narrowing signal.
	slot := make(map[int64]int, len(details))
	for i, d := range details {
		slot[d.PhotoRecordID] = i
	}
	for i, d := range details {
		if !index.Has(d.PhotoRecordID) {
			continue
		}
		neighbors, err := index.Search(d.PhotoRecordID, constants.NeighborSearchLimit)
		if err != nil {
			continue
		}
		for _, n := range neighbors {
			if n.Similarity < rules.SimilarityThreshold {
				continue
			}
			j, ok := slot[n.PhotoRecordID]
			if !ok {
				continue
			}
			a, b := details[i], details[j]
			if a.CapturedAt != nil && b.CapturedAt != nil {
				gap := b.CapturedAt.Sub(*a.CapturedAt)
				if gap < 0 {
					gap = -gap
				}
				if gap > window {
					continue
				}
			}
			uf.union(i, j)
		}
	}

	// Collect the connected components in first-seen order.
	components := make(map[int][]database.InstanceDetail)
	order := make([]int, 0)
	for i, d := range details {
		root := uf.find(i)
		if _, seen := components[root]; !seen {
			order = append(order, root)
		}
		components[root] = append(components[root], d)
	}

	buckets := make([][]database.InstanceDetail, 0, len(order))
	for _, root := range order {
		buckets = append(buckets, components[root])
	}
	return buckets
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]] // Path halving
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[rb] = ra
	}
}

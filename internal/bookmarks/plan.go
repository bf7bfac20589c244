package bookmarks

// OpKind names one of the completion-plan operation types from spec.md
// §4.2's merge driver. Each Op carries the merged identifier; Merge does
// not fill in Op.Level, so it is always 0.
type OpKind string

const (
	OpApplyRemoteItem        OpKind = "apply_remote_items"
	OpChangeGUID             OpKind = "change_guids"
	OpApplyNewLocalStructure OpKind = "apply_new_local_structure"
	OpDeleteLocalTombstone   OpKind = "delete_local_tombstones"
	OpInsertLocalTombstone   OpKind = "insert_local_tombstones"
	OpDeleteLocalItem        OpKind = "delete_local_items"
	OpSetLocalMerged         OpKind = "set_local_merged"
	OpSetLocalUnmerged       OpKind = "set_local_unmerged"
	OpSetRemoteMerged        OpKind = "set_remote_merged"
	OpUploadItem             OpKind = "upload_items"
	OpUploadTombstone        OpKind = "upload_tombstones"
)

// MergedItem is the resolved content+position for one node, ready to be
// written into the local tree.
type MergedItem struct {
	ID        string
	Kind      Kind
	Title     string
	PlaceID   string
	Keyword   string
	DateAdded int64
	Parent    string
	Position  int
}

// Op is one entry of the completion plan.
type Op struct {
	Kind   OpKind
	ID     string
	OldID  string // populated for change_guids: the identifier being replaced
	Level  int
	Item   *MergedItem
	// ChildOrder is populated for apply_new_local_structure: the final
	// ordered child ids of the parent named by ID.
	ChildOrder []string
	Weak       bool // true for a "weak reupload" (date-added correction only)
}

// Plan is the full completion plan the merge driver emits; apply.go
// executes it in one transaction.
type Plan struct {
	Ops []Op
}

func (p *Plan) add(op Op) { p.Ops = append(p.Ops, op) }

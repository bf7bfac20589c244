package bookmarks

// Merge is the three-way structural merge driver from spec.md §4.2: it
// matches local and remote tree nodes by identity, then by content when
// no identity match exists, resolves structural and content conflicts by
// node age, and emits a completion plan of typed operations. apply.go
// executes the plan in one transaction.
func Merge(local, remote *Tree, now int64) (*Plan, error) {
	plan := &Plan{}

	guidMap := dedupeByContent(local, remote)
	for localID, mergedID := range guidMap {
		plan.add(Op{Kind: OpChangeGUID, ID: mergedID, OldID: localID})
	}
	reverseGuid := make(map[string]string, len(guidMap))
	for localID, mergedID := range guidMap {
		reverseGuid[mergedID] = localID
	}

	handledRemote := make(map[string]bool)
	for remoteID, rn := range remote.Nodes {
		if isRootID(remoteID) {
			continue
		}
		localID := remoteID
		if mapped, ok := reverseGuid[remoteID]; ok {
			localID = mapped
		}
		var ln *Node
		if n, ok := local.Nodes[localID]; ok {
			ln = n
		}
		resolveNode(plan, remoteID, localID, ln, rn)
		handledRemote[remoteID] = true
	}

	for id, ln := range local.Nodes {
		if isRootID(id) || guidMap[id] != "" {
			continue
		}
		if _, inRemote := remote.Nodes[id]; inRemote {
			continue
		}
		if ln.Deleted {
			continue
		}
		if ln.NeedsMerge {
			plan.add(Op{Kind: OpUploadItem, ID: id, Item: mergedFromLocal(ln)})
		}
	}

	emitStructureOps(plan, local, remote, guidMap)
	return plan, nil
}

func isRootID(id string) bool {
	switch id {
	case RootID, UnfiledID, MenuID, ToolbarID, MobileID:
		return true
	}
	return false
}

// dedupeByContent finds, for each remote-only node, a content-identical
// local-only node under the same parent and returns a localID->mergedID
// map. Matching is greedy and first-come: earlier-positioned candidates
// are preferred, matching spec.md scenario 3's ordered pairing.
func dedupeByContent(local, remote *Tree) map[string]string {
	guidMap := make(map[string]string)
	consumed := make(map[string]bool)

	for remoteID, rn := range remote.Nodes {
		if isRootID(remoteID) || rn.Deleted {
			continue
		}
		if _, hasLocal := local.Nodes[remoteID]; hasLocal {
			continue
		}
		cand := findContentDup(local, remote, rn, consumed)
		if cand == nil {
			continue
		}
		consumed[cand.ID] = true
		guidMap[cand.ID] = remoteID
	}
	return guidMap
}

func findContentDup(local, remote *Tree, rn *Node, consumed map[string]bool) *Node {
	parent := rn.Parent
	if _, ok := local.Nodes[parent]; !ok {
		parent = UnfiledID
	}
	for _, id := range local.Children[parent] {
		if consumed[id] {
			continue
		}
		ln := local.Nodes[id]
		if ln == nil || ln.Deleted {
			continue
		}
		if _, inRemote := remote.Nodes[id]; inRemote {
			continue
		}
		if ln.Kind != rn.Kind {
			continue
		}
		switch rn.Kind {
		case KindBookmark, KindQuery:
			if ln.PlaceID == rn.PlaceID && ln.Title == rn.Title {
				return ln
			}
		case KindFolder:
			if ln.Title == rn.Title {
				return ln
			}
		case KindSeparator:
			if ln.Position == rn.Position {
				return ln
			}
		}
	}
	return nil
}

func resolveNode(plan *Plan, remoteID, localID string, ln, rn *Node) {
	if rn.Deleted {
		resolveRemoteDeletion(plan, remoteID, localID, ln)
		return
	}
	if rn.Validity == ValidityReplace {
		if ln != nil && !ln.Deleted {
			plan.add(Op{Kind: OpUploadItem, ID: localID, Item: mergedFromLocal(ln)})
		}
		plan.add(Op{Kind: OpSetRemoteMerged, ID: remoteID})
		return
	}
	if ln == nil || ln.Deleted {
		resolveRemoteOnly(plan, remoteID, localID, ln, rn)
		return
	}
	resolveBothSides(plan, remoteID, localID, ln, rn)
}

// resolveRemoteDeletion implements "deleted on one side, modified on the
// other: the modification wins" (spec.md §4.2).
func resolveRemoteDeletion(plan *Plan, remoteID, localID string, ln *Node) {
	if ln != nil && !ln.Deleted && ln.NeedsMerge {
		plan.add(Op{Kind: OpDeleteLocalTombstone, ID: localID})
		plan.add(Op{Kind: OpUploadItem, ID: localID, Item: mergedFromLocal(ln)})
		plan.add(Op{Kind: OpSetLocalUnmerged, ID: localID})
		return
	}
	if ln != nil && !ln.Deleted {
		plan.add(Op{Kind: OpDeleteLocalItem, ID: localID})
		plan.add(Op{Kind: OpInsertLocalTombstone, ID: localID})
	}
	plan.add(Op{Kind: OpSetRemoteMerged, ID: remoteID})
}

func resolveRemoteOnly(plan *Plan, remoteID, localID string, ln, rn *Node) {
	if ln != nil && ln.Deleted {
		plan.add(Op{Kind: OpDeleteLocalTombstone, ID: localID})
	}
	item := mergedFromRemote(rn, remoteID)
	plan.add(Op{Kind: OpApplyRemoteItem, ID: remoteID, Item: item})
	if rn.Validity == ValidityReupload {
		plan.add(Op{Kind: OpUploadItem, ID: remoteID, Item: item})
	}
	plan.add(Op{Kind: OpSetRemoteMerged, ID: remoteID})
}

// resolveBothSides resolves content/parent conflicts for a node both
// sides know about, by whichever side changed most recently (smaller
// Age = more recent), and flags re-upload when needed.
func resolveBothSides(plan *Plan, remoteID, localID string, ln, rn *Node) {
	var localWins bool
	switch {
	case ln.NeedsMerge && !rn.NeedsMerge:
		localWins = true
	case rn.NeedsMerge && !ln.NeedsMerge:
		localWins = false
	case ln.NeedsMerge && rn.NeedsMerge:
		localWins = ln.Age < rn.Age
	default:
		localWins = false
	}
	if rn.Validity == ValidityReupload {
		localWins = true
	}
	weakReupload := !localWins && ln.DateAdded > rn.DateAdded

	var item *MergedItem
	if localWins {
		item = mergedFromLocal(ln)
		item.ID = remoteID
	} else {
		item = mergedFromRemote(rn, remoteID)
	}

	if ln.Parent != rn.Parent {
		if ln.Age < rn.Age {
			item.Parent, item.Position = ln.Parent, ln.Position
		} else {
			item.Parent, item.Position = rn.Parent, rn.Position
		}
	}

	plan.add(Op{Kind: OpApplyRemoteItem, ID: remoteID, Item: item})
	switch {
	case localWins:
		plan.add(Op{Kind: OpUploadItem, ID: remoteID, Item: item})
		plan.add(Op{Kind: OpSetLocalUnmerged, ID: remoteID})
	case weakReupload:
		plan.add(Op{Kind: OpUploadItem, ID: remoteID, Item: item, Weak: true})
		plan.add(Op{Kind: OpSetLocalMerged, ID: remoteID})
	default:
		plan.add(Op{Kind: OpSetLocalMerged, ID: remoteID})
	}
	plan.add(Op{Kind: OpSetRemoteMerged, ID: remoteID})
}

func mergedFromLocal(ln *Node) *MergedItem {
	return &MergedItem{
		ID: ln.ID, Kind: ln.Kind, Title: ln.Title, PlaceID: ln.PlaceID,
		Keyword: ln.Keyword, DateAdded: ln.DateAdded, Parent: ln.Parent, Position: ln.Position,
	}
}

func mergedFromRemote(rn *Node, id string) *MergedItem {
	return &MergedItem{
		ID: id, Kind: rn.Kind, Title: rn.Title, PlaceID: rn.PlaceID,
		Keyword: rn.Keyword, DateAdded: rn.DateAdded, Parent: rn.Parent, Position: rn.Position,
	}
}

// emitStructureOps emits one apply_new_local_structure op per parent
// known to either tree. The child order is the remote tree's order
// whenever the remote side lists children for that parent, and the local
// order otherwise; which side changed more recently is not considered.
func emitStructureOps(plan *Plan, local, remote *Tree, guidMap map[string]string) {
	parents := make(map[string]bool)
	for p := range local.Children {
		parents[p] = true
	}
	for p := range remote.Children {
		parents[p] = true
	}
	for parent := range parents {
		order := remote.Children[parent]
		if len(order) == 0 {
			order = local.Children[parent]
		}
		plan.add(Op{Kind: OpApplyNewLocalStructure, ID: parent, ChildOrder: mapIDs(order, guidMap)})
	}
}

func mapIDs(ids []string, guidMap map[string]string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if mapped, ok := guidMap[id]; ok {
			out[i] = mapped
		} else {
			out[i] = id
		}
	}
	return out
}

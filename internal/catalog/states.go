package catalog

// State is the lifecycle tag of a catalog item.
//
// Lifecycle:
//
//	(new file)  --insert-->  need_analysis
//	unchanged --mtime diff--> need_analysis
//	need_analysis --claim--> analysing --extract ok--> need_indexing
//	need_indexing --claim--> indexing --publish ok--> indexed
//	indexed/unchanged --file gone--> need_deletion
//	need_deletion --claim--> indexing --unindex--> deleted
type State string

const (
	// StateUnchanged means the file has not changed since the last scan.
	StateUnchanged State = "unchanged"
	// StateNeedAnalysis means the file is new or changed and must be analysed.
	StateNeedAnalysis State = "need_analysis"
	// StateAnalysing means a worker currently owns the row for analysis.
	StateAnalysing State = "analysing"
	// StateNeedIndexing means analysis output is stored, waiting for publish.
	StateNeedIndexing State = "need_indexing"
	// StateIndexing means a worker currently owns the row for (un)publishing.
	StateIndexing State = "indexing"
	// StateIndexed means the document is published in the search index.
	StateIndexed State = "indexed"
	// StateNeedDeletion means the file is gone and the document must be removed.
	StateNeedDeletion State = "need_deletion"
	// StateDeleted means the document has been removed from the search index.
	StateDeleted State = "deleted"
)

// InProcessStates are ownership markers. A row in one of these states belongs
// to exactly one worker; no other worker, stage, or a re-entrant walker may
// touch it.
var InProcessStates = []State{StateAnalysing, StateNeedIndexing, StateIndexing}

// AllStates lists every lifecycle tag in pipeline order.
var AllStates = []State{
	StateUnchanged, StateNeedAnalysis, StateAnalysing, StateNeedIndexing,
	StateIndexing, StateIndexed, StateNeedDeletion, StateDeleted,
}

// IsInProcess reports whether s is an ownership marker.
func (s State) IsInProcess() bool {
	switch s {
	case StateAnalysing, StateNeedIndexing, StateIndexing:
		return true
	}
	return false
}

// Valid reports whether s is one of the enumerated lifecycle tags.
func (s State) Valid() bool {
	switch s {
	case StateUnchanged, StateNeedAnalysis, StateAnalysing, StateNeedIndexing,
		StateIndexing, StateIndexed, StateNeedDeletion, StateDeleted:
		return true
	}
	return false
}

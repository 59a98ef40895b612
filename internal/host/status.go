package host

// IndexStatus is a point-in-time view of a project's index.
type IndexStatus struct {
	Ready       bool         `json:"ready"`
	Project     string       `json:"project"`
	Root        string       `json:"root"`
	Files       int          `json:"files"`
	SymbolKinds []SymbolKind `json:"symbolKinds"`
}

// Status snapshots the readiness of project.
func Status(project Project) IndexStatus {
	st := IndexStatus{
		Ready:       project.Ready(),
		Project:     project.Name(),
		Root:        project.Root(),
		SymbolKinds: SymbolKinds(),
	}
	if st.Ready {
		if files, err := project.ListFiles(""); err == nil {
			st.Files = len(files)
		}
	}
	return st
}

package corpusrun

const (
	WorkflowName        = "corpus_build"
	ActivityBuildCorpus = "build_training_corpus"
	WorkflowIDPrefix    = "corpus-build-"
)

type BuildResult struct {
	Address string `json:"address"`
	Backend string `json:"backend"`
	Stored  bool   `json:"stored"`
}

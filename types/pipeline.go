package types

// Pipeline maps each job type to the job type its handler enqueues on success.
// Job types absent from the map end their chain. Handlers read this map when
// enqueuing follow-on work so the whole topology lives in one place.
var Pipeline = map[JobType]JobType{
	JobAIGenerateSpec: JobAIGenerateSeed,
	JobAIGenerateSeed: JobImportSeed,
	JobVerifyDNS:      JobProvisionSSL,
}

// NextStage returns the job type that follows jobType, if any.
func NextStage(jobType JobType) (JobType, bool) {
	next, ok := Pipeline[jobType]
	return next, ok
}

// PipelineChain walks the pipeline from start and returns every stage in order, start included.
func PipelineChain(start JobType) []JobType {
	chain := []JobType{start}
	seen := map[JobType]bool{start: true}
	for cur := start; ; {
		next, ok := NextStage(cur)
		if !ok || seen[next] {
			return chain
		}
		chain = append(chain, next)
		seen[next] = true
		cur = next
	}
}

// PipelineRoots returns the job types that start a chain of two or more stages.
func PipelineRoots() []JobType {
	targets := map[JobType]bool{}
	for _, next := range Pipeline {
		targets[next] = true
	}
	var roots []JobType
	for _, jt := range AllJobTypes {
		if _, ok := Pipeline[jt]; ok && !targets[jt] {
			roots = append(roots, jt)
		}
	}
	return roots
}

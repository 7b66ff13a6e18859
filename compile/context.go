package compile

import (
	"sort"

	"github.com/goliatone/go-workflow/model"
)

type branchCaseRef struct {
	branch    model.Branch
	caseIndex int
}

type forkPathRef struct {
	fork      model.Fork
	pathIndex int
}

// emitContext indexes the IR once so construct compilers can answer "what
// anchors to this step" in constant time. Absent keys simply mean the
// construct is not present at that step; no errors are raised here.
type emitContext struct {
	wf *model.Workflow

	// loopsByEnd orders co-located loops innermost-first by counting
	// hierarchy separators in each loop's full prefix. That ordering is
	// all the loop compiler needs to cascade correctly.
	loopsByEnd map[string][]model.Loop

	branchByStep  map[string]model.Branch
	branchPathEnd map[string]branchCaseRef

	forkByStep      map[string]model.Fork
	forkPathEnd     map[string]forkPathRef
	forkRecoveryEnd map[string]forkPathRef
	pathOf          map[string]forkPathRef

	approvalByStep map[string]model.Approval

	// pathNext is the successor within a branch case, fork path, failure
	// chain, or approval resolution chain.
	pathNext map[string]string

	failureEnd    map[string]model.FailureHandler
	stepFailure   map[string]model.FailureHandler
	rejectionEnd  map[string]model.Approval
	escalationEnd map[string]model.Approval

	// approvalNext maps approval ID to the sequence step the approval
	// gates; nested escalation approvals inherit the parent's target.
	approvalNext map[string]string

	// approvals flattened in declaration order, parents before their
	// nested escalation approvals.
	approvals []model.Approval
}

func newEmitContext(wf *model.Workflow) *emitContext {
	ctx := &emitContext{
		wf:              wf,
		loopsByEnd:      make(map[string][]model.Loop),
		branchByStep:    make(map[string]model.Branch),
		branchPathEnd:   make(map[string]branchCaseRef),
		forkByStep:      make(map[string]model.Fork),
		forkPathEnd:     make(map[string]forkPathRef),
		forkRecoveryEnd: make(map[string]forkPathRef),
		pathOf:          make(map[string]forkPathRef),
		approvalByStep:  make(map[string]model.Approval),
		pathNext:        make(map[string]string),
		failureEnd:      make(map[string]model.FailureHandler),
		stepFailure:     make(map[string]model.FailureHandler),
		rejectionEnd:    make(map[string]model.Approval),
		escalationEnd:   make(map[string]model.Approval),
		approvalNext:    make(map[string]string),
	}

	for _, loop := range wf.Loops {
		ctx.loopsByEnd[loop.Last] = append(ctx.loopsByEnd[loop.Last], loop)
	}
	for last, loops := range ctx.loopsByEnd {
		sort.SliceStable(loops, func(i, j int) bool {
			return wf.LoopDepth(loops[i].Name) > wf.LoopDepth(loops[j].Name)
		})
		ctx.loopsByEnd[last] = loops
	}

	for _, br := range wf.Branches {
		if br.Step != "" {
			ctx.branchByStep[br.Step] = br
		}
		for idx, c := range br.Cases {
			ctx.chain(c.Steps)
			if len(c.Steps) > 0 {
				ctx.branchPathEnd[c.Steps[len(c.Steps)-1]] = branchCaseRef{branch: br, caseIndex: idx}
			}
		}
	}

	for _, fork := range wf.Forks {
		ctx.forkByStep[fork.Step] = fork
		for _, path := range fork.Paths {
			ctx.chain(path.Steps)
			ref := forkPathRef{fork: fork, pathIndex: path.Index}
			for _, step := range path.Steps {
				ctx.pathOf[step] = ref
			}
			ctx.forkPathEnd[path.Steps[len(path.Steps)-1]] = ref
			if path.FailureHandler != "" {
				if h, ok := wf.HandlerByID(path.FailureHandler); ok && len(h.Steps) > 0 {
					ctx.forkRecoveryEnd[h.Steps[len(h.Steps)-1]] = ref
				}
			}
		}
	}

	for _, h := range wf.Handlers {
		ctx.chain(h.Steps)
		if len(h.Steps) > 0 {
			last := h.Steps[len(h.Steps)-1]
			// fork-path recovery ends are owned by the fork compiler
			if _, recovery := ctx.forkRecoveryEnd[last]; !recovery {
				ctx.failureEnd[last] = h
			}
		}
		if h.Step != "" {
			ctx.stepFailure[h.Step] = h
		}
	}

	for _, a := range wf.Approvals {
		next, _ := wf.Successor(a.Step)
		ctx.indexApproval(a, a.Step, next)
	}

	return ctx
}

func (c *emitContext) indexApproval(a model.Approval, anchor, next string) {
	if anchor != "" {
		c.approvalByStep[anchor] = a
	}
	c.approvalNext[a.ID] = next
	c.approvals = append(c.approvals, a)
	if a.Rejection != nil && len(a.Rejection.Steps) > 0 {
		c.chain(a.Rejection.Steps)
		c.rejectionEnd[a.Rejection.Steps[len(a.Rejection.Steps)-1]] = a
	}
	if a.Escalation != nil {
		if len(a.Escalation.Steps) > 0 {
			c.chain(a.Escalation.Steps)
			c.escalationEnd[a.Escalation.Steps[len(a.Escalation.Steps)-1]] = a
		}
		if a.Escalation.Approval != nil {
			// nested approvals gate the same successor as their parent
			c.indexApproval(*a.Escalation.Approval, "", next)
		}
	}
}

// chain records within-path successors for a step list.
func (c *emitContext) chain(steps []string) {
	for i := 0; i+1 < len(steps); i++ {
		c.pathNext[steps[i]] = steps[i+1]
	}
}

package compile

import (
	"fmt"

	"github.com/goliatone/go-errors"
)

// Compile-time and generated-handler error codes.
const (
	ErrCodeDanglingReference   = "WF_DANGLING_REFERENCE"
	ErrCodeUnresolvedCondition = "WF_UNRESOLVED_CONDITION"
	ErrCodeUnresolvedMerger    = "WF_UNRESOLVED_MERGER"
	ErrCodeBranchCycle         = "WF_BRANCH_CYCLE"
	ErrCodeDuplicateTrigger    = "WF_DUPLICATE_TRIGGER"
	ErrCodeSharedRecovery      = "WF_SHARED_RECOVERY_CHAIN"
	ErrCodeUnmatchedBranch     = "WF_UNMATCHED_BRANCH"
)

// danglingReferenceError reports a construct naming a step (or construct)
// absent from the definition. Required, non-recoverable compilation failure.
func danglingReferenceError(wf, construct, field, ref string) error {
	return errors.New(
		fmt.Sprintf("%s references unknown %s %q", construct, field, ref),
		errors.CategoryBadInput,
	).WithTextCode(ErrCodeDanglingReference).WithMetadata(map[string]any{
		"workflow":  wf,
		"construct": construct,
		"field":     field,
		"reference": ref,
	})
}

func unresolvedConditionError(wf, construct, ref string) error {
	return errors.New(
		fmt.Sprintf("%s references unregistered condition %q", construct, ref),
		errors.CategoryBadInput,
	).WithTextCode(ErrCodeUnresolvedCondition).WithMetadata(map[string]any{
		"workflow":  wf,
		"construct": construct,
		"reference": ref,
	})
}

func unresolvedDiscriminatorError(wf, branch, ref string) error {
	return errors.New(
		fmt.Sprintf("branch %s references unregistered discriminator %q", branch, ref),
		errors.CategoryBadInput,
	).WithTextCode(ErrCodeUnresolvedCondition).WithMetadata(map[string]any{
		"workflow":  wf,
		"branch":    branch,
		"reference": ref,
	})
}

func unresolvedMergerError(wf, stateType string) error {
	return errors.New(
		fmt.Sprintf("state type %q has no registered merger", stateType),
		errors.CategoryBadInput,
	).WithTextCode(ErrCodeUnresolvedMerger).WithMetadata(map[string]any{
		"workflow":   wf,
		"state_type": stateType,
	})
}

func branchCycleError(wf, branch string) error {
	return errors.New(
		fmt.Sprintf("branch %s chains back onto itself", branch),
		errors.CategoryBadInput,
	).WithTextCode(ErrCodeBranchCycle).WithMetadata(map[string]any{
		"workflow": wf,
		"branch":   branch,
	})
}

func duplicateTriggerError(wf, handler, key string) error {
	return errors.New(
		fmt.Sprintf("handler %s duplicates trigger %s", handler, key),
		errors.CategoryBadInput,
	).WithTextCode(ErrCodeDuplicateTrigger).WithMetadata(map[string]any{
		"workflow": wf,
		"handler":  handler,
		"trigger":  key,
	})
}

func sharedRecoveryError(wf, handlerID string) error {
	return errors.New(
		fmt.Sprintf("failure handler %s is shared by multiple fork paths", handlerID),
		errors.CategoryBadInput,
	).WithTextCode(ErrCodeSharedRecovery).WithMetadata(map[string]any{
		"workflow": wf,
		"handler":  handlerID,
	})
}

// unmatchedBranchError is the defensive runtime failure raised when no
// case, chained branch, or rejoin step resolves a discriminator value.
// Deliberately a runtime error, not a compile-time one.
func unmatchedBranchError(branch string, value any) error {
	return errors.New(
		fmt.Sprintf("branch %s has no case for value %v", branch, value),
		errors.CategoryBadInput,
	).WithTextCode(ErrCodeUnmatchedBranch).WithMetadata(map[string]any{
		"branch": branch,
		"value":  fmt.Sprintf("%v", value),
	})
}

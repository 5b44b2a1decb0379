package workflow

// Stage is a step of the CI workflow
type Stage string

const (
	StageResolve     Stage = "resolve"
	StageBundle      Stage = "bundle"
	StageUploadApp   Stage = "upload-app"
	StageUploadTests Stage = "upload-tests"
	StageSchedule    Stage = "schedule"
	StageRun         Stage = "run"
	StageResults     Stage = "results"
	StageComplete    Stage = "complete"
)

// Stages lists the workflow steps in execution order
var Stages = []Stage{
	StageResolve,
	StageBundle,
	StageUploadApp,
	StageUploadTests,
	StageSchedule,
	StageRun,
	StageResults,
	StageComplete,
}

// Observer receives progress events while the workflow runs
type Observer interface {
	StageStarted(stage Stage, message string)
	StageFinished(stage Stage, err error)
	StatusChanged(resource, status string)
	Log(message string)
}

type nopObserver struct{}

func (nopObserver) StageStarted(Stage, string)   {}
func (nopObserver) StageFinished(Stage, error)   {}
func (nopObserver) StatusChanged(string, string) {}
func (nopObserver) Log(string)                   {}

package engine

// Command is a user instruction delivered to a suspended session.
type Command string

const (
	CommandEnterPlanning Command = "enter_planning"
	CommandSkipPlanning  Command = "skip_planning"
	CommandConfirmPlan   Command = "confirm_plan"
)

// Route decides how a suspended session reacts to a command. Pure function:
// no side effects, fully table-testable. An unknown command re-enters the
// wait state so a typo can never silently advance or kill a session.
func Route(status PlanningStatus, cmd Command) (PlanningStatus, SessionStatus) {
	switch cmd {
	case CommandConfirmPlan:
		return PlanningConfirmed, StatusResearchFanOut
	case CommandSkipPlanning:
		return PlanningAutoApproved, StatusResearchFanOut
	case CommandEnterPlanning:
		return PlanningAwaiting, StatusPlanning
	default:
		return status, StatusPlanningWait
	}
}

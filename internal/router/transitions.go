package router

import "github.com/orderguardian/internal/conversation"

// Signals a specialist may raise about its result.
const (
	SignalCompleted         = "completed"
	SignalDelayDetected     = "delay_detected"
	SignalIssueFound        = "issue_found"
	SignalDefectConfirmed   = "defect_confirmed"
	SignalExchangeNeeded    = "exchange_needed"
	SignalOutOfStock        = "out_of_stock"
	SignalExchangeProcessed = "exchange_processed"
	SignalRefundProcessed   = "refund_processed"
)

// Transitions maps a specialist and the signal it raised to the next action.
// Signals absent from a specialist's row hand control back to the controller.
var Transitions = map[conversation.AgentID]map[string]conversation.NextAction{
	conversation.AgentMonitor: {
		SignalDelayDetected: conversation.NextAction(conversation.AgentResolution),
		SignalIssueFound:    conversation.NextAction(conversation.AgentResolution),
	},
	conversation.AgentVisual: {
		SignalDefectConfirmed: conversation.NextAction(conversation.AgentResolution),
		SignalExchangeNeeded:  conversation.NextAction(conversation.AgentExchange),
	},
	conversation.AgentExchange: {
		SignalOutOfStock:        conversation.NextAction(conversation.AgentResolution),
		SignalExchangeProcessed: conversation.ActionEnd,
	},
	conversation.AgentResolution: {
		SignalRefundProcessed: conversation.ActionEnd,
	},
}

// Next returns the action following agent's signal. SignalCompleted always
// ends the flow; unknown signals return NoAction.
func Next(agent conversation.AgentID, signal string) conversation.NextAction {
	if signal == SignalCompleted {
		return conversation.ActionEnd
	}
	return Transitions[agent][signal]
}

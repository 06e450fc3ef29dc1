// Package localizer names the failing segment of a link from the health of
// its three hops.
package localizer

import "github.com/shsakib0002/smart-noc/models"

// Causes reported alongside each code.
const (
	CauseSignalFluctuating = "Signal Fluctuating"
	CausePacketLoss        = "Client Packet Loss."
	CauseLinkOptimal       = "Link Optimal."
	CauseClientUnreachable = "Base UP. Client Unreachable."
	CauseBaseDown          = "Gateway UP. Base DOWN."
	CauseGatewayDown       = "Gateway Unreachable."
)

// Localize walks from the subscriber toward the POP and stops at the first
// hop that answered. A hop that lost some echoes still answered. hops must be
// in models.HopOrder.
func Localize(hops [3]models.HopHealth) (models.DiagnosisCode, string) {
	client := hops[models.ClientRadio]
	base := hops[models.BaseRadio]
	gw := hops[models.Gateway]

	switch {
	case client.Answered() && client.Grade() == models.GradeUnstable:
		return models.CodeUnstable, CauseSignalFluctuating
	case client.Probe.Status == models.ProbeUnstable:
		return models.CodeUnstable, CausePacketLoss
	case client.Answered():
		return models.CodeLinkUp, CauseLinkOptimal
	case base.Answered():
		return models.CodeClientDown, CauseClientUnreachable
	case gw.Answered():
		return models.CodeSectorDown, CauseBaseDown
	default:
		return models.CodePopIssue, CauseGatewayDown
	}
}

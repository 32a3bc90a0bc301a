// Package recovery decides, from the broker's deal history and the persisted
// bot state, whether a restarted engine continues an interrupted ladder.
package recovery

import (
	"binary-options-bot-go/internal/exchange"
	"binary-options-bot-go/internal/ladder"
	"binary-options-bot-go/internal/models"
	"context"
	"errors"
	"fmt"
)

// CheckResumeState inspects both wallets' deal history. An open deal has
// priority; otherwise the most recent deal by creation time decides.
// persisted may be nil when nothing was stored.
func CheckResumeState(ctx context.Context, broker exchange.Broker, persisted *models.PersistedBotState) (models.ResumeState, error) {
	none := models.ResumeState{Reason: models.ResumeNone}

	var deals []models.Deal
	var errs []error
	for _, wallet := range []models.WalletType{models.Demo, models.Real} {
		d, err := broker.GetDeals(ctx, wallet)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s deals: %w", wallet, err))
			continue
		}
		deals = append(deals, d...)
	}
	if len(errs) == 2 {
		return none, errors.Join(errs...)
	}

	lastStep := 0
	inSwitchDemo := false
	if persisted != nil {
		lastStep = persisted.LastBidStep
		inSwitchDemo = persisted.LastBidInSwitchDemo
	}
	next := min(lastStep+1, ladder.MaxStep)

	for i := range deals {
		if deals[i].IsOpen() {
			d := deals[i]
			return models.ResumeState{ShouldResume: true, ResumeStep: next, Reason: models.ResumeUnclosedBid, Deal: &d}, nil
		}
	}

	latest := -1
	for i := range deals {
		if latest < 0 || deals[i].CreatedAt.After(deals[latest].CreatedAt) {
			latest = i
		}
	}
	if latest < 0 {
		return none, nil
	}
	d := deals[latest]
	switch {
	case d.Win == 0:
		return models.ResumeState{ShouldResume: true, ResumeStep: next, Reason: models.ResumeLastBidLost, Deal: &d}, nil
	case d.Win > d.Amount && inSwitchDemo:
		return models.ResumeState{ShouldResume: true, ResumeStep: 0, Reason: models.ResumeLastBidWonInSwitch, Deal: &d}, nil
	}
	return none, nil
}

// Apply seeds a fresh ladder with a resume decision.
func Apply(st *models.LadderState, rs models.ResumeState, persisted *models.PersistedBotState) {
	if !rs.ShouldResume {
		return
	}
	st.MartingaleStep = rs.ResumeStep
	if persisted != nil && persisted.LastSignalTrend != "" {
		st.LastSignalTrend = persisted.LastSignalTrend
	}
	if rs.Reason == models.ResumeLastBidWonInSwitch {
		st.ForceDemo = false
		st.SwitchDemoActive = false
		st.AllowAutoSwitch = false
	}
}

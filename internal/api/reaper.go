package api

import "time"

// how often inactive generators are swept
const reapPeriod = time.Minute

// reaper destroys generators that were not pinged within the configured
// timeout, so abandoned streams do not accumulate.
func (a *ApiManagerCtx) reaper() {
	ticker := time.NewTicker(reapPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-a.shutdown:
			return
		case <-ticker.C:
			a.reapInactive(time.Now())
		}
	}
}

func (a *ApiManagerCtx) reapInactive(now time.Time) {
	a.mu.Lock()
	var expired []*generatorEntry
	for id, entry := range a.generators {
		if now.Sub(entry.lastPing) > a.config.PingTimeout {
			expired = append(expired, entry)
			delete(a.generators, id)
		}
	}
	a.mu.Unlock()

	for _, entry := range expired {
		a.logger.Info().Str("id", entry.id).Time("last-ping", entry.lastPing).Msg("reaping inactive generator")
		entry.manager.Destroy(false)
	}
}

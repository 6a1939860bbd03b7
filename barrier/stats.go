package barrier

import "github.com/launchdarkly/go-jsonstream/v3/jwriter"

// BuildStatsString renders the tracker counters as a JSON object for
// diagnostics.
func (t *Tracker) BuildStatsString() string {
	t.mu.Lock()
	stats := t.stats
	tracked := t.states.Count()
	t.mu.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("Vendor").String(t.vendor.String())
	obj.Name("TrackedBuffers").Int(tracked)
	obj.Name("EmittedBarriers").Int(int(stats.Total))
	obj.Name("ElidedBarriers").Int(int(stats.Elided))
	detail := obj.Name("ByKind").Object()
	detail.Name("UploadToRead").Int(int(stats.Upload))
	detail.Name("ReadToWrite").Int(int(stats.ReadToWrite))
	detail.Name("WriteToRead").Int(int(stats.WriteToRead))
	detail.Name("WriteToWrite").Int(int(stats.WriteToWrite))
	detail.End()
	obj.End()
	return string(writer.Bytes())
}

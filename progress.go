package main

import (
	"os"

	"github.com/BertoldVdb/nandflash/tasks"
	"github.com/gosuri/uiprogress"
	"github.com/sirupsen/logrus"
)

/* Without a terminal, progress is logged in steps of this many percent */
const progressLogStep = 10

// progress hooks a progress display into t and returns the function that
// ends it. Bars are drawn on stdout, so they are off when stdout carries data.
func (a *app) progress(t *tasks.Tasks, name string, bars bool) func() {
	if !bars || !a.terminal(os.Stdout.Fd()) {
		next := int64(progressLogStep)
		t.Progress = func(done int64, total int64) {
			if total <= 0 {
				return
			}
			if percent := done * 100 / total; percent >= next {
				a.log.WithFields(logrus.Fields{"operation": name, "done": done, "total": total}).Infof("%d%%", percent)
				next = percent - percent%progressLogStep + progressLogStep
			}
		}
		return func() {}
	}

	uiprogress.Start()

	var bar *uiprogress.Bar
	t.Progress = func(done int64, total int64) {
		if bar == nil {
			bar = uiprogress.AddBar(int(total)).AppendCompleted().PrependFunc(func(b *uiprogress.Bar) string {
				return "   " + name
			})
		}
		bar.Set(int(done))
	}

	return uiprogress.Stop
}

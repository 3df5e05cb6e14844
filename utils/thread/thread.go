// Package thread pins the calling goroutine to a CPU core.
package thread

/*
   #define _GNU_SOURCE
   #include <sched.h>
   #include <pthread.h>

   int set_cpu_affinity(int core_id) {
       cpu_set_t cpuset;
       CPU_ZERO(&cpuset);
       CPU_SET(core_id, &cpuset);
       return pthread_setaffinity_np(pthread_self(), sizeof(cpu_set_t), &cpuset);
   }
*/
import "C"

import (
	"runtime"
	"syscall"

	"github.com/pkg/errors"
)

// Pin locks the calling goroutine to its OS thread and binds that thread to
// core. The returned func unlocks the goroutine again; the affinity stays
// with the thread.
func Pin(core int) (func(), error) {
	if core < 0 || core >= runtime.NumCPU() {
		return nil, errors.Errorf("core %d out of range [0, %d)", core, runtime.NumCPU())
	}

	runtime.LockOSThread()
	if rc := C.set_cpu_affinity(C.int(core)); rc != 0 {
		runtime.UnlockOSThread()
		return nil, errors.Wrap(syscall.Errno(rc), "pthread_setaffinity_np")
	}
	return runtime.UnlockOSThread, nil
}

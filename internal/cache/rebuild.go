package cache

// rebuildPool 固定大小的缓存重建协程池。
// 提交是非阻塞的：队列满时直接拒绝，由调用方释放互斥锁、继续返回旧值，
// 等待下一次过期访问再触发重建，避免高峰期把重建任务无限堆积。
type rebuildPool struct {
	jobs chan func()
}

func newRebuildPool(workers, queueSize int) *rebuildPool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &rebuildPool{jobs: make(chan func(), queueSize)}
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *rebuildPool) run() {
	for job := range p.jobs {
		job()
	}
}

// submit 尝试入队一个重建任务，队列已满时返回 false。
func (p *rebuildPool) submit(job func()) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

func (p *rebuildPool) close() { close(p.jobs) }

package config

type WorkerKeyStruct struct {
	InvalidationQueue string
}

var WorkerKey = &WorkerKeyStruct{
	InvalidationQueue: "invalidation_queue",
}

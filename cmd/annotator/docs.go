package main

//go:generate swag init -g cmd/annotator/main.go -o docs

// @title           Audio Annotator API
// @version         0.1.0
// @description     WAV ingestion into QuestDB, waveform browsing and vehicle event labelling.
// @host            localhost:8000
// @BasePath        /
// @schemes         http

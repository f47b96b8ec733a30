package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Flows and their immutable version snapshots
			CREATE TABLE flows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				current_version_id VARCHAR(255),
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_flows_owner ON flows(owner);
			CREATE INDEX idx_flows_created_at ON flows(created_at);

			CREATE TABLE flow_versions (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				graph JSONB NOT NULL,
				artifact JSONB NOT NULL,
				message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_flow_versions_flow_id ON flow_versions(flow_id);
			CREATE INDEX idx_flow_versions_created_at ON flow_versions(created_at);
		`,
		2: `
			-- Runs with per-node state kept as a JSONB map
			CREATE TABLE runs (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL,
				version_id VARCHAR(255) NOT NULL REFERENCES flow_versions(id),
				node_states JSONB NOT NULL DEFAULT '{}',
				trigger_info JSONB NOT NULL DEFAULT '{}',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_runs_flow_id ON runs(flow_id);
			CREATE INDEX idx_runs_version_id ON runs(version_id);
			CREATE INDEX idx_runs_started_at ON runs(started_at);
		`,
		3: `
			-- Entities and the append-only journey-event log
			CREATE TABLE entities (
				id VARCHAR(255) PRIMARY KEY,
				canvas_id VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL,
				classification VARCHAR(50) NOT NULL,
				position JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_entities_canvas_email ON entities(canvas_id, email);

			CREATE TABLE journey_events (
				id VARCHAR(255) PRIMARY KEY,
				entity_id VARCHAR(255) NOT NULL REFERENCES entities(id),
				event_type VARCHAR(50) NOT NULL,
				node_id VARCHAR(255),
				edge_id VARCHAR(255),
				run_id VARCHAR(255),
				at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_journey_events_entity_id ON journey_events(entity_id);
			CREATE INDEX idx_journey_events_at ON journey_events(at);
		`,
	}
}

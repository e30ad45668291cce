package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE definitions (
				kind VARCHAR(32) NOT NULL,
				key VARCHAR(512) NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (kind, key)
			);

			CREATE TABLE transactions (
				id VARCHAR(255) PRIMARY KEY,
				status VARCHAR(32) NOT NULL,
				document JSONB NOT NULL,
				create_time TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_transactions_status ON transactions(status);
			CREATE INDEX idx_transactions_create_time ON transactions(create_time);

			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				transaction_id VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				document JSONB NOT NULL,
				create_time TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_transaction_id ON workflows(transaction_id);

			CREATE TABLE tasks (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL,
				transaction_id VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				is_retried BOOLEAN NOT NULL DEFAULT FALSE,
				document JSONB NOT NULL,
				create_time TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_tasks_workflow_id ON tasks(workflow_id);
			CREATE INDEX idx_tasks_transaction_id ON tasks(transaction_id);
		`,
	}
}
